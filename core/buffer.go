package core

import "pkt.systems/muxrun/schema"

// scrollback is a bounded ring of captured lines plus a scroll position.
// offset counts lines from the bottom; 0 means the view follows new output.
type scrollback struct {
	ring   []string
	head   int
	count  int
	limit  int
	offset int
}

func newScrollback(maxLines int) *scrollback {
	if maxLines <= 0 {
		maxLines = schema.DefaultBufferMaxLines
	}
	return &scrollback{limit: maxLines}
}

// Append adds lines, dropping the oldest beyond the limit. A scrolled view
// stays on the same content.
func (s *scrollback) Append(lines ...string) {
	for _, line := range lines {
		s.push(line)
	}
	if s.offset > 0 {
		s.offset += len(lines)
		if s.offset > s.count {
			s.offset = s.count
		}
	}
}

func (s *scrollback) push(line string) {
	if s.count < s.limit {
		s.ring = append(s.ring, line)
		s.count++
		return
	}
	s.ring[s.head] = line
	s.head = (s.head + 1) % s.limit
}

// Len returns the number of stored lines.
func (s *scrollback) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Scroll moves the view by delta lines for a viewport of height lines.
// Positive deltas move towards older lines.
func (s *scrollback) Scroll(delta, height int) {
	s.offset = clampOffset(s.offset+delta, s.count, height)
}

// View copies the visible lines for a viewport of height lines. A height of
// zero or less covers every line.
func (s *scrollback) View(pane schema.PaneID, height int) schema.CaptureSnapshot {
	if height <= 0 || height > s.count {
		height = s.count
	}
	s.offset = clampOffset(s.offset, s.count, height)
	end := s.count - s.offset
	start := max(end-height, 0)
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		lines = append(lines, s.at(i))
	}
	return schema.CaptureSnapshot{
		Pane:         pane,
		Lines:        lines,
		TotalLines:   s.count,
		ScrollOffset: s.offset,
		AtBottom:     s.offset == 0,
	}
}

// at returns the i-th oldest stored line.
func (s *scrollback) at(i int) string {
	return s.ring[(s.head+i)%len(s.ring)]
}

func clampOffset(offset, total, height int) int {
	limit := 0
	if height > 0 && total > height {
		limit = total - height
	}
	return min(max(offset, 0), limit)
}
