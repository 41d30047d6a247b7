package core

import (
	"time"

	"pkt.systems/muxrun/schema"
)

// Pane is a surface inside a session. Output routed to a pane is stored in its
// capture buffer while the pane is in capture mode.
type Pane struct {
	id       schema.PaneID
	session  *Session
	title    string
	created  time.Time
	mode     schema.PaneMode
	capture  *scrollback
	maxLines int
	dead     bool
}

// ID returns the pane id.
func (p *Pane) ID() schema.PaneID { return p.id }

// Session returns the session owning the pane.
func (p *Pane) Session() *Session { return p.session }

// Title returns the pane title.
func (p *Pane) Title() string { return p.title }

// SetTitle changes the pane title.
func (p *Pane) SetTitle(title string) { p.title = title }

// Mode returns the current pane mode.
func (p *Pane) Mode() schema.PaneMode { return p.mode }

// InMode reports whether the pane is showing something other than its live
// content.
func (p *Pane) InMode() bool { return p.mode != schema.PaneModeLive }

// Live reports whether the pane still exists.
func (p *Pane) Live() bool { return p != nil && !p.dead }

// Index returns the pane's position within its session.
func (p *Pane) Index() int {
	if p.session == nil {
		return -1
	}
	return p.session.paneIndex(p)
}

// EnterCaptureMode switches the pane into capture mode with an empty buffer.
// It reports true when the mode was newly entered; calling it again while the
// pane is already capturing keeps the existing buffer.
func (p *Pane) EnterCaptureMode() bool {
	if p.mode == schema.PaneModeCapture && p.capture != nil {
		return false
	}
	p.mode = schema.PaneModeCapture
	p.capture = newScrollback(p.maxLines)
	return true
}

// AppendCaptureLine appends one line to the capture buffer. Lines arriving
// outside capture mode are dropped.
func (p *Pane) AppendCaptureLine(line string) bool {
	if p.mode != schema.PaneModeCapture || p.capture == nil {
		return false
	}
	p.capture.Append(line)
	return true
}

// ExitMode returns the pane to live mode and discards the capture buffer.
func (p *Pane) ExitMode() {
	p.mode = schema.PaneModeLive
	p.capture = nil
}

// ScrollCapture scrolls the capture buffer by delta lines for a viewport of
// limit lines.
func (p *Pane) ScrollCapture(delta, limit int) {
	if p.capture == nil {
		return
	}
	p.capture.Scroll(delta, limit)
}

// Capture returns a copy of the capture buffer for a viewport of limit lines
// (all lines when limit is zero or less).
func (p *Pane) Capture(limit int) schema.CaptureSnapshot {
	if p.capture == nil {
		return schema.CaptureSnapshot{Pane: p.id, AtBottom: true}
	}
	return p.capture.View(p.id, limit)
}

// Snapshot returns a transport-friendly view of the pane.
func (p *Pane) Snapshot() schema.PaneSnapshot {
	snap := schema.PaneSnapshot{
		ID:    p.id,
		Index: p.Index(),
		Title: p.title,
		Mode:  p.mode,
		Lines: p.capture.Len(),
	}
	if p.session != nil {
		snap.Session = p.session.id
		snap.Active = p.session.active == p
	}
	return snap
}
