package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// SessionID identifies a session. Rendered as "$N".
type SessionID uint32

// PaneID identifies a pane. Rendered as "%N". Pane ids are never reused.
type PaneID uint32

// ClientID identifies a connected client.
type ClientID string

// JobID identifies an asynchronous shell job.
type JobID string

// String renders the session id in target form.
func (id SessionID) String() string {
	return "$" + strconv.FormatUint(uint64(id), 10)
}

// String renders the pane id in target form.
func (id PaneID) String() string {
	return "%" + strconv.FormatUint(uint64(id), 10)
}

// ParseSessionID parses a "$N" session id.
func ParseSessionID(value string) (SessionID, error) {
	n, err := parsePrefixedID(value, '$')
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q: %w", value, err)
	}
	return SessionID(n), nil
}

// ParsePaneID parses a "%N" pane id.
func ParsePaneID(value string) (PaneID, error) {
	n, err := parsePrefixedID(value, '%')
	if err != nil {
		return 0, fmt.Errorf("invalid pane id %q: %w", value, err)
	}
	return PaneID(n), nil
}

func parsePrefixedID(value string, prefix byte) (uint32, error) {
	value = strings.TrimSpace(value)
	if len(value) < 2 || value[0] != prefix {
		return 0, ErrInvalidRequest
	}
	n, err := strconv.ParseUint(value[1:], 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
