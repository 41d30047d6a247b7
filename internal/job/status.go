package job

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitStatus describes how a process terminated.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

// Exited returns the status of a process that exited normally with code.
func Exited(code int) ExitStatus {
	return ExitStatus{Code: code}
}

// Killed returns the status of a process terminated by sig.
func Killed(sig syscall.Signal) ExitStatus {
	return ExitStatus{Signaled: true, Signal: sig}
}

// Success reports a normal exit with code 0.
func (s ExitStatus) Success() bool {
	return !s.Signaled && s.Code == 0
}

// String renders the status for logs.
func (s ExitStatus) String() string {
	if s.Signaled {
		name := unix.SignalName(s.Signal)
		if name == "" {
			return fmt.Sprintf("signal %d", int(s.Signal))
		}
		return fmt.Sprintf("signal %s (%d)", name, int(s.Signal))
	}
	return fmt.Sprintf("exit %d", s.Code)
}
