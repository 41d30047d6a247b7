package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultShell runs commands when no shell is configured.
const DefaultShell = "/bin/sh"

// ExecBackend runs commands as "<shell> -c <command>" child processes, each
// in its own process group with stdin from /dev/null.
type ExecBackend struct {
	Shell string
	Dir   string
	Env   []string
}

// NewExecBackend returns an ExecBackend using shell (DefaultShell when
// empty) with env added on top of the server's environment.
func NewExecBackend(shell string, env map[string]string) *ExecBackend {
	if strings.TrimSpace(shell) == "" {
		shell = DefaultShell
	}
	return &ExecBackend{Shell: shell, Env: envList(env)}
}

// Name returns the backend name.
func (b *ExecBackend) Name() string { return "exec" }

// Start launches the command.
func (b *ExecBackend) Start(_ context.Context, command string, output io.Writer) (Process, error) {
	shell := b.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.Command(shell, "-c", command)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.Dir = b.Dir
	cmd.Env = append(os.Environ(), b.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", shell, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() ExitStatus {
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ProcessState != nil {
			state = exitErr.ProcessState
		} else {
			return Exited(exitStartFailed)
		}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return Killed(ws.Signal())
		}
		return Exited(ws.ExitStatus())
	}
	return Exited(state.ExitCode())
}

// Signal signals the whole process group so pipelines die with their shell.
func (p *execProcess) Signal(sig syscall.Signal) error {
	pid := p.Pid()
	if pid <= 0 {
		return errors.New("process not started")
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return p.cmd.Process.Signal(sig)
	}
	return nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		if strings.TrimSpace(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+env[key])
	}
	return out
}
