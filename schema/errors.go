package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request or command line.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTargetNotFound indicates an explicit target did not resolve to a pane.
	ErrTargetNotFound = errors.New("can't find pane")
	// ErrSessionNotFound indicates a session could not be found.
	ErrSessionNotFound = errors.New("can't find session")
	// ErrSessionExists indicates a session name is already taken.
	ErrSessionExists = errors.New("duplicate session")
	// ErrInvalidSessionName indicates a session name is not usable.
	ErrInvalidSessionName = errors.New("invalid session name")
	// ErrUnknownCommand indicates the command name is not recognised.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrLoopStopped indicates the event loop is no longer running.
	ErrLoopStopped = errors.New("event loop stopped")
	// ErrSchedulerClosed indicates the job scheduler no longer accepts jobs.
	ErrSchedulerClosed = errors.New("scheduler closed")
)
