package schema

import "time"

// PaneMode describes what a pane is currently showing.
type PaneMode string

const (
	// PaneModeLive is the normal pane mode.
	PaneModeLive PaneMode = "live"
	// PaneModeCapture stores appended text in the pane's capture buffer.
	PaneModeCapture PaneMode = "capture"
)

// PaneSnapshot is a read-only view of a pane.
type PaneSnapshot struct {
	ID      PaneID
	Session SessionID
	Index   int
	Title   string
	Mode    PaneMode
	Active  bool
	Lines   int
}

// SessionSnapshot is a read-only view of a session.
type SessionSnapshot struct {
	ID       SessionID
	Name     string
	Created  time.Time
	Panes    int
	Attached int
}

// ClientSnapshot is a read-only view of a client.
type ClientSnapshot struct {
	ID         ClientID
	Name       string
	TTY        string
	Term       string
	Session    SessionID
	HasSession bool
	Command    bool
	References int
}

// CaptureSnapshot is a copy of a pane's capture buffer.
type CaptureSnapshot struct {
	Pane         PaneID
	Lines        []string
	TotalLines   int
	ScrollOffset int
	AtBottom     bool
}

// JobState tracks where a job is in its callback lifecycle.
type JobState string

const (
	// JobStateSubmitted means the process was started and nothing was delivered yet.
	JobStateSubmitted JobState = "submitted"
	// JobStateDraining means at least one non-terminal output delivery happened.
	JobStateDraining JobState = "draining"
	// JobStateFinalizing means the terminal delivery is in progress.
	JobStateFinalizing JobState = "finalizing"
	// JobStateDone means teardown ran; the job will not be delivered again.
	JobStateDone JobState = "done"
)

// JobSnapshot is a read-only view of a running job.
type JobSnapshot struct {
	ID      JobID
	Command string
	State   JobState
	Pid     int
	Started time.Time
}
