package schema

import (
	"strings"
	"unicode"
)

// NormalizeSessionName validates and normalizes a session name.
// Names may not be empty, start with '$' or '%', or contain '.', ':' or
// control characters, since those collide with target syntax.
func NormalizeSessionName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrInvalidSessionName
	}
	if trimmed[0] == '$' || trimmed[0] == '%' {
		return "", ErrInvalidSessionName
	}
	for _, r := range trimmed {
		if r == '.' || r == ':' || unicode.IsControl(r) {
			return "", ErrInvalidSessionName
		}
	}
	return trimmed, nil
}
