package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// exitSyntaxError is reported for commands the shell cannot parse.
const exitSyntaxError = 2

// VirtualBackend interprets commands with an in-process POSIX shell.
// External programs are still executed, but no shell binary is needed.
type VirtualBackend struct {
	Dir string
	Env []string
}

// NewVirtualBackend returns a VirtualBackend with env added on top of the
// server's environment.
func NewVirtualBackend(env map[string]string) *VirtualBackend {
	return &VirtualBackend{Env: envList(env)}
}

// Name returns the backend name.
func (b *VirtualBackend) Name() string { return "virtual" }

// Start parses and runs the command on a goroutine.
func (b *VirtualBackend) Start(_ context.Context, command string, output io.Writer) (Process, error) {
	proc := &virtualProcess{done: make(chan struct{})}
	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		_, _ = fmt.Fprintf(output, "%v\n", err)
		proc.status = Exited(exitSyntaxError)
		close(proc.done)
		return proc, nil
	}
	opts := []interp.RunnerOption{
		interp.StdIO(nil, output, output),
		interp.Env(expand.ListEnviron(append(os.Environ(), b.Env...)...)),
	}
	if b.Dir != "" {
		opts = append(opts, interp.Dir(b.Dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create interpreter: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	proc.cancel = cancel
	go func() {
		defer close(proc.done)
		defer cancel()
		err := runner.Run(ctx, prog)
		proc.status = virtualStatus(ctx, err, output)
	}()
	return proc, nil
}

type virtualProcess struct {
	done   chan struct{}
	cancel context.CancelFunc
	status ExitStatus
}

func (p *virtualProcess) Pid() int { return 0 }

func (p *virtualProcess) Wait() ExitStatus {
	<-p.done
	return p.status
}

// Signal cancels the interpreter; the command is reported as killed by
// SIGTERM whatever sig was requested.
func (p *virtualProcess) Signal(syscall.Signal) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return nil
}

func virtualStatus(ctx context.Context, err error, output io.Writer) ExitStatus {
	if err == nil {
		return Exited(0)
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		if ctx.Err() != nil {
			return Killed(unix.SIGTERM)
		}
		return Exited(int(status))
	}
	if ctx.Err() != nil {
		return Killed(unix.SIGTERM)
	}
	_, _ = fmt.Fprintf(output, "%v\n", err)
	return Exited(1)
}
