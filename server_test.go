package muxrun

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/muxrun/core"
	"pkt.systems/muxrun/internal/job"
	"pkt.systems/muxrun/schema"
)

func startTestServer(t *testing.T, cfg ServerConfig) Server {
	t.Helper()
	srv, err := New(cfg, ServerDeps{Hostname: "host.example"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func execLine(t *testing.T, srv Server, line string) (string, string, int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var stdout, stderr bytes.Buffer
	code := srv.Exec(ctx, line, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestExecRunShellIntoPaneAndCapture(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})
	if _, stderr, code := execLine(t, srv, "new-session -d -s work"); code != 0 {
		t.Fatalf("new-session failed: %d %s", code, stderr)
	}
	stdout, stderr, code := execLine(t, srv, `run-shell -t work "echo one; echo two; exit 3"`)
	if code != 0 {
		t.Fatalf("run-shell failed: %d %s", code, stderr)
	}
	if stdout != "" {
		t.Fatalf("expected output to go to the pane, got %q", stdout)
	}
	stdout, _, code = execLine(t, srv, "capture-pane -x -t work")
	if code != 0 {
		t.Fatalf("capture-pane failed: %d", code)
	}
	want := "one\ntwo\n'echo one; echo two; exit 3' returned 3\n"
	if stdout != want {
		t.Fatalf("unexpected capture:\nwant %q\n got %q", want, stdout)
	}
}

func TestExecRunShellWithoutTargetPrintsToClient(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})
	stdout, stderr, code := execLine(t, srv, `run-shell "echo hello; exit 2"`)
	if code != 0 {
		t.Fatalf("run-shell failed: %d %s", code, stderr)
	}
	if stdout != "hello\n'echo hello; exit 2' returned 2\n" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestExecDeliversEveryOutputLine(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})
	stdout, stderr, code := execLine(t, srv, `run-shell "seq 5000; exit 3"`)
	if code != 0 {
		t.Fatalf("run-shell failed: %d %s", code, stderr)
	}
	lines := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	if len(lines) != 5001 {
		t.Fatalf("expected 5001 lines, got %d", len(lines))
	}
	for i, line := range lines[:5000] {
		if line != strconv.Itoa(i+1) {
			t.Fatalf("line %d: got %q", i, line)
		}
	}
	if lines[5000] != "'seq 5000; exit 3' returned 3" {
		t.Fatalf("unexpected status line %q", lines[5000])
	}
}

func TestExecSilentFailureReportsStatus(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})
	stdout, _, code := execLine(t, srv, "run-shell false")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if stdout != "'false' returned 1\n" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestExecUnknownCommandFails(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})
	_, stderr, code := execLine(t, srv, "frobnicate")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "frobnicate") {
		t.Fatalf("expected command name in error, got %q", stderr)
	}
}

func TestExecVirtualBackend(t *testing.T) {
	srv := startTestServer(t, ServerConfig{
		Scheduler: SchedulerConfig{Backend: "virtual", Env: map[string]string{"GREETING": "hej"}},
	})
	stdout, _, code := execLine(t, srv, `run-shell 'echo "$GREETING"; exit 5'`)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if stdout != "hej\n'echo \"$GREETING\"; exit 5' returned 5\n" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(ServerConfig{Scheduler: SchedulerConfig{Backend: "docker"}}, ServerDeps{})
	if !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestNewUsesBackendOverride(t *testing.T) {
	srv, err := New(ServerConfig{Scheduler: SchedulerConfig{Backend: "docker"}}, ServerDeps{Backend: job.NewVirtualBackend(nil)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := srv.(*compositeServer).backend; got != "virtual" {
		t.Fatalf("expected virtual backend, got %s", got)
	}
}

func TestStopTerminatesRunningJobs(t *testing.T) {
	srv, err := New(ServerConfig{Scheduler: SchedulerConfig{ShutdownTimeout: 5 * time.Second}}, ServerDeps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	type result struct {
		stdout string
		code   int
	}
	done := make(chan result, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		code := srv.Exec(context.Background(), "run-shell 'sleep 30'", &stdout, &stderr)
		done <- result{stdout: stdout.String(), code: code}
	}()
	comp := srv.(*compositeServer)
	deadline := time.Now().Add(5 * time.Second)
	for !jobRunning(comp) {
		if time.Now().After(deadline) {
			t.Fatalf("job never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case res := <-done:
		if res.stdout != "'sleep 30' terminated by signal 15\n" {
			t.Fatalf("unexpected stdout %q", res.stdout)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("command client never exited")
	}
}

func TestStartTwiceFails(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestWaitBeforeStartFails(t *testing.T) {
	srv, err := New(ServerConfig{}, ServerDeps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Wait(); err == nil {
		t.Fatalf("expected wait to fail before start")
	}
}

func jobRunning(s *compositeServer) bool {
	jobs := s.sched.Jobs()
	return len(jobs) == 1 && jobs[0].Pid != 0
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []schema.ClientEvent
}

func (n *recordingNotifier) Notify(event schema.ClientEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []schema.ClientEventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]schema.ClientEventKind, 0, len(n.events))
	for _, event := range n.events {
		out = append(out, event.Kind)
	}
	return out
}

func TestExtraNotifierSeesClientEvents(t *testing.T) {
	extra := &recordingNotifier{}
	srv, err := New(ServerConfig{}, ServerDeps{Notifier: extra})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	stdout, _, code := execLine(t, srv, "run-shell 'echo seen'")
	if code != 0 || stdout != "seen\n" {
		t.Fatalf("unexpected exec result %d %q", code, stdout)
	}
	kinds := extra.kinds()
	want := []schema.ClientEventKind{schema.ClientEventPrint, schema.ClientEventExit}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestConnectAbandonedWhileQueuedLeavesNoClient(t *testing.T) {
	srv := startTestServer(t, ServerConfig{})
	comp := srv.(*compositeServer)

	release := make(chan struct{})
	comp.loop.Post(func() { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := comp.Connect(ctx, core.ClientOptions{Kind: core.ClientCommand, Name: "late"})
		errCh <- err
	}()
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("connect did not give up")
	}
	close(release)

	var clients int
	if err := comp.loop.Do(context.Background(), func() { clients = len(comp.reg.Clients()) }); err != nil {
		t.Fatalf("loop: %v", err)
	}
	if clients != 0 {
		t.Fatalf("expected no registered clients, got %d", clients)
	}
}
