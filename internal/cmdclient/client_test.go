package cmdclient

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"pkt.systems/muxrun/core"
	"pkt.systems/muxrun/internal/eventbus"
	"pkt.systems/muxrun/schema"
)

// fakeHost serializes registry access with a mutex in place of the event loop.
type fakeHost struct {
	mu   sync.Mutex
	reg  *core.Registry
	lost []schema.ClientID
}

func newFakeHost(t *testing.T) (*fakeHost, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	reg, err := core.NewRegistry(schema.ServiceConfig{}, core.RegistryDeps{Notifier: bus, Hostname: "host.example"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return &fakeHost{reg: reg}, bus
}

func (h *fakeHost) Connect(_ context.Context, opts core.ClientOptions) (*core.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.NewClient(opts)
}

func (h *fakeHost) Execute(_ context.Context, client *core.Client, line string) (schema.CommandResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch line {
	case "say":
		client.Print("hello")
		client.Info("done")
		return schema.ResultNormal, nil
	case "warn":
		client.Error("bad thing")
		return schema.ResultNormal, nil
	case "flood":
		client.Retain()
		go func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i := range 5000 {
				client.Print(strconv.Itoa(i))
			}
			client.AllowExit()
			client.Release()
		}()
		return schema.ResultYield, nil
	case "later":
		client.Retain()
		go func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			client.Print("late output")
			client.AllowExit()
			client.Release()
		}()
		return schema.ResultYield, nil
	default:
		return schema.ResultNormal, errors.New("unknown command: " + line)
	}
}

func (h *fakeHost) Disconnect(_ context.Context, id schema.ClientID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = append(h.lost, id)
	h.reg.LoseClient(id)
}

func TestRunPrintsSynchronousOutput(t *testing.T) {
	host, bus := newFakeHost(t)
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), host, bus, core.ClientOptions{ID: "c1"}, "say", &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr %q)", code, stderr.String())
	}
	if stdout.String() != "hello\ndone\n" {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
	if len(host.lost) != 1 || host.lost[0] != "c1" {
		t.Fatalf("expected client to be disconnected, got %v", host.lost)
	}
	if _, ok := host.reg.Client("c1"); ok {
		t.Fatalf("expected client to be freed")
	}
}

func TestRunWaitsForYieldingCommand(t *testing.T) {
	host, bus := newFakeHost(t)
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), host, bus, core.ClientOptions{ID: "c2"}, "later", &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if stdout.String() != "late output\n" {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
}

func TestRunRelaysEveryLineOfALargeBurst(t *testing.T) {
	host, bus := newFakeHost(t)
	var stdout, stderr bytes.Buffer
	if code := Run(context.Background(), host, bus, core.ClientOptions{ID: "c4"}, "flood", &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr %q)", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSuffix(stdout.String(), "\n"), "\n")
	if len(lines) != 5000 {
		t.Fatalf("expected 5000 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if line != strconv.Itoa(i) {
			t.Fatalf("line %d out of order: %q", i, line)
		}
	}
}

func TestRunReportsErrors(t *testing.T) {
	host, bus := newFakeHost(t)
	var stdout, stderr bytes.Buffer
	if code := Run(context.Background(), host, bus, core.ClientOptions{}, "warn", &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for error notification, got %d", code)
	}
	if stderr.String() != "bad thing\n" {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}

	stderr.Reset()
	if code := Run(context.Background(), host, bus, core.ClientOptions{}, "bogus", &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for failed command, got %d", code)
	}
	if stderr.String() != "unknown command: bogus\n" {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestRunForcesCommandClient(t *testing.T) {
	host, bus := newFakeHost(t)
	var stdout, stderr bytes.Buffer
	opts := core.ClientOptions{ID: "c3", Kind: core.ClientAttached}
	if code := Run(context.Background(), host, bus, opts, "later", &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	// An attached client would ignore AllowExit and Run would never return.
	if len(host.reg.Sessions()) != 0 {
		t.Fatalf("expected no default session for a command client")
	}
}

func TestRunWithoutHost(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Run(context.Background(), nil, nil, core.ClientOptions{}, "say", &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}
