package core

import (
	"errors"
	"sync"
	"testing"

	"pkt.systems/muxrun/internal/format"
	"pkt.systems/muxrun/schema"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []schema.ClientEvent
}

func (n *recordingNotifier) Notify(event schema.ClientEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) snapshot() []schema.ClientEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]schema.ClientEvent(nil), n.events...)
}

func newTestRegistry(t *testing.T) (*Registry, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	reg, err := NewRegistry(schema.ServiceConfig{BufferMaxLines: 5}, RegistryDeps{Notifier: notifier, Hostname: "box.example.org"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg, notifier
}

func TestNewSessionCreatesActivePane(t *testing.T) {
	reg, _ := newTestRegistry(t)
	session, err := reg.NewSession("work")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	pane, ok := session.Active()
	if !ok {
		t.Fatalf("expected active pane")
	}
	if pane.Index() != 0 || pane.Session() != session {
		t.Fatalf("unexpected pane: %+v", pane.Snapshot())
	}
	if _, err := reg.NewSession("work"); !errors.Is(err, schema.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
	if _, err := reg.NewSession("bad.name"); !errors.Is(err, schema.ErrInvalidSessionName) {
		t.Fatalf("expected ErrInvalidSessionName, got %v", err)
	}
	unnamed, err := reg.NewSession("")
	if err != nil {
		t.Fatalf("new unnamed session: %v", err)
	}
	if unnamed.Name() == "" || unnamed.ID() == session.ID() {
		t.Fatalf("unexpected unnamed session %+v", unnamed.Snapshot(0))
	}
}

func TestPaneSlotsAreReusedButIDsAreNot(t *testing.T) {
	reg, _ := newTestRegistry(t)
	session, _ := reg.NewSession("s")
	first, _ := session.Active()
	second := reg.NewPane(session, "two")
	firstSlot := reg.paneSlot[first.ID()]

	if err := reg.KillPane(first.ID()); err != nil {
		t.Fatalf("kill pane: %v", err)
	}
	if _, ok := reg.Pane(first.ID()); ok {
		t.Fatalf("killed pane still resolves")
	}
	if first.Live() {
		t.Fatalf("killed pane reports live")
	}
	third := reg.NewPane(session, "three")
	if third.ID() == first.ID() || third.ID() <= second.ID() {
		t.Fatalf("pane id reused: first=%s third=%s", first.ID(), third.ID())
	}
	if reg.paneSlot[third.ID()] != firstSlot {
		t.Fatalf("expected slot %d to be reused, got %d", firstSlot, reg.paneSlot[third.ID()])
	}
	if _, ok := reg.Pane(first.ID()); ok {
		t.Fatalf("stale pane id resolves to the reused slot")
	}
}

func TestKillingLastPaneRemovesSession(t *testing.T) {
	reg, _ := newTestRegistry(t)
	session, _ := reg.NewSession("s")
	pane, _ := session.Active()
	if err := reg.KillPane(pane.ID()); err != nil {
		t.Fatalf("kill pane: %v", err)
	}
	if _, ok := reg.Session(session.ID()); ok {
		t.Fatalf("expected session to be removed")
	}
	if err := reg.KillPane(pane.ID()); !errors.Is(err, schema.ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestKillSessionDetachesClients(t *testing.T) {
	reg, _ := newTestRegistry(t)
	client, err := reg.NewClient(ClientOptions{Kind: ClientAttached})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session, ok := client.Session()
	if !ok || session.Name() != schema.DefaultSessionName {
		t.Fatalf("expected client in default session")
	}
	pane, _ := session.Active()
	if err := reg.KillSession(session.ID()); err != nil {
		t.Fatalf("kill session: %v", err)
	}
	if _, ok := client.Session(); ok {
		t.Fatalf("client still has session")
	}
	if _, ok := reg.Pane(pane.ID()); ok {
		t.Fatalf("pane survived its session")
	}
	if err := reg.KillSession(session.ID()); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestResolvePaneSpecifiers(t *testing.T) {
	reg, _ := newTestRegistry(t)
	work, _ := reg.NewSession("work")
	work0, _ := work.Active()
	work1 := reg.NewPane(work, "")
	other, _ := reg.NewSession("other")
	other0, _ := other.Active()
	client, _ := reg.NewClient(ClientOptions{Kind: ClientCommand})
	if err := reg.AttachClient(client, work); err != nil {
		t.Fatalf("attach: %v", err)
	}

	cases := []struct {
		spec string
		want *Pane
	}{
		{work0.ID().String(), work0},
		{other.ID().String(), other0},
		{"work", work1},
		{"wo", work1},
		{"work.0", work0},
		{"other.0", other0},
		{".0", work0},
		{"", work1},
	}
	for _, tc := range cases {
		got, err := reg.ResolvePane(tc.spec, client)
		if err != nil {
			t.Fatalf("resolve %q: %v", tc.spec, err)
		}
		if got != tc.want {
			t.Fatalf("resolve %q: got %s want %s", tc.spec, got.ID(), tc.want.ID())
		}
	}
	for _, spec := range []string{"%99", "$99", "missing", "work.7", "work.x", ".0x", "%x"} {
		if _, err := reg.ResolvePane(spec, client); !errors.Is(err, schema.ErrTargetNotFound) {
			t.Fatalf("resolve %q: expected ErrTargetNotFound, got %v", spec, err)
		}
	}
	if _, err := reg.ResolvePane(".0", nil); !errors.Is(err, schema.ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound without client, got %v", err)
	}
}

func TestResolveSessionRejectsAmbiguousPrefix(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, _ = reg.NewSession("alpha")
	_, _ = reg.NewSession("alps")
	if _, err := reg.ResolveSession("al", nil); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	session, err := reg.ResolveSession("alph", nil)
	if err != nil || session.Name() != "alpha" {
		t.Fatalf("expected alpha, got %v %v", session, err)
	}
}

func TestLostClientIsFreedAfterLastRelease(t *testing.T) {
	reg, notifier := newTestRegistry(t)
	client, _ := reg.NewClient(ClientOptions{ID: "c1", Kind: ClientCommand})
	client.Retain()
	client.Retain()
	reg.LoseClient("c1")
	if !client.Terminated() {
		t.Fatalf("expected terminated client")
	}
	if _, ok := reg.Client("c1"); !ok {
		t.Fatalf("referenced client was freed early")
	}
	client.Print("dropped")
	client.Release()
	if _, ok := reg.Client("c1"); !ok {
		t.Fatalf("client freed with a reference outstanding")
	}
	client.Release()
	if _, ok := reg.Client("c1"); ok {
		t.Fatalf("expected client to be freed")
	}
	client.Release()
	if len(notifier.snapshot()) != 0 {
		t.Fatalf("expected no notifications for a lost client, got %+v", notifier.snapshot())
	}
}

func TestUnreferencedClientIsFreedOnLoss(t *testing.T) {
	reg, _ := newTestRegistry(t)
	client, _ := reg.NewClient(ClientOptions{ID: "c1", Kind: ClientAttached})
	reg.LoseClient(client.ID())
	if _, ok := reg.Client("c1"); ok {
		t.Fatalf("expected client to be freed")
	}
	if len(reg.Clients()) != 0 {
		t.Fatalf("expected no clients")
	}
}

func TestSessionViewerSkipsLostAndCommandClients(t *testing.T) {
	reg, _ := newTestRegistry(t)
	session, _ := reg.NewSession("s")
	cmd, _ := reg.NewClient(ClientOptions{ID: "cmd", Kind: ClientCommand})
	_ = reg.AttachClient(cmd, session)
	if _, ok := reg.SessionViewer(session.ID()); ok {
		t.Fatalf("command client must not be a viewer")
	}
	first, _ := reg.NewClient(ClientOptions{ID: "a", Kind: ClientAttached})
	second, _ := reg.NewClient(ClientOptions{ID: "b", Kind: ClientAttached})
	_ = reg.AttachClient(first, session)
	_ = reg.AttachClient(second, session)
	viewer, ok := reg.SessionViewer(session.ID())
	if !ok || viewer != first {
		t.Fatalf("expected first attached client as viewer")
	}
	reg.LoseClient(first.ID())
	viewer, ok = reg.SessionViewer(session.ID())
	if !ok || viewer != second {
		t.Fatalf("expected second client after first was lost")
	}
	if reg.AttachedCount(session.ID()) != 1 {
		t.Fatalf("expected one attached client")
	}
}

func TestAllowExitOnlyAffectsCommandClients(t *testing.T) {
	reg, notifier := newTestRegistry(t)
	attached, _ := reg.NewClient(ClientOptions{ID: "a", Kind: ClientAttached})
	attached.AllowExit()
	select {
	case <-attached.Exited():
		t.Fatalf("attached client must not exit")
	default:
	}
	cmd, _ := reg.NewClient(ClientOptions{ID: "c", Kind: ClientCommand})
	cmd.Info("hello")
	cmd.AllowExit()
	cmd.AllowExit()
	select {
	case <-cmd.Exited():
	default:
		t.Fatalf("command client should be allowed to exit")
	}
	if !cmd.ExitAllowed() {
		t.Fatalf("expected exit flag")
	}
	events := notifier.snapshot()
	if len(events) != 2 || events[0].Kind != schema.ClientEventInfo || events[1].Kind != schema.ClientEventExit {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestCaptureModeIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	session, _ := reg.NewSession("s")
	pane, _ := session.Active()
	if pane.AppendCaptureLine("early") {
		t.Fatalf("append outside capture mode should be dropped")
	}
	if !pane.EnterCaptureMode() {
		t.Fatalf("expected capture mode to be newly entered")
	}
	pane.AppendCaptureLine("one")
	if pane.EnterCaptureMode() {
		t.Fatalf("second enter should report false")
	}
	pane.AppendCaptureLine("two")
	capture := pane.Capture(0)
	if len(capture.Lines) != 2 || capture.Lines[0] != "one" || capture.Lines[1] != "two" {
		t.Fatalf("unexpected capture %+v", capture)
	}
	for i := 0; i < 10; i++ {
		pane.AppendCaptureLine("x")
	}
	if got := pane.Capture(0).TotalLines; got != 5 {
		t.Fatalf("expected buffer trimmed to 5 lines, got %d", got)
	}
	pane.ExitMode()
	if pane.InMode() || pane.Capture(0).TotalLines != 0 {
		t.Fatalf("expected live mode with empty capture")
	}
}

func TestFormatsPopulateKeys(t *testing.T) {
	reg, _ := newTestRegistry(t)
	client, _ := reg.NewClient(ClientOptions{ID: "c", Name: "alice", TTY: "/dev/pts/1", Term: "xterm", Kind: ClientAttached})
	session, _ := client.Session()
	pane := reg.NewPane(session, "logs")
	pane.EnterCaptureMode()

	tree := reg.Formats(client, nil, pane)
	want := map[string]string{
		format.KeyHost:            "box.example.org",
		format.KeyHostShort:       "box",
		format.KeySessionName:     schema.DefaultSessionName,
		format.KeySessionPanes:    "2",
		format.KeySessionAttached: "1",
		format.KeyClientName:      "alice",
		format.KeyClientTTY:       "/dev/pts/1",
		format.KeyClientTermName:  "xterm",
		format.KeyClientSession:   schema.DefaultSessionName,
		format.KeyPaneID:          pane.ID().String(),
		format.KeyPaneIndex:       "1",
		format.KeyPaneTitle:       "logs",
		format.KeyPaneInMode:      "1",
	}
	for key, value := range want {
		if got, _ := tree.Get(key); got != value {
			t.Fatalf("key %s: got %q want %q", key, got, value)
		}
	}
	if got := tree.Expand("#S:#P #{pane_title}"); got != schema.DefaultSessionName+":1 logs" {
		t.Fatalf("unexpected expansion %q", got)
	}
}
