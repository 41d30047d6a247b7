// Package format expands "#{key}" templates against a set of named values.
package format

import (
	"sort"
	"strconv"
	"strings"
)

// Keys populated for sessions, panes and clients.
const (
	KeyHost            = "host"
	KeyHostShort       = "host_short"
	KeySessionName     = "session_name"
	KeySessionID       = "session_id"
	KeySessionCreated  = "session_created"
	KeySessionPanes    = "session_panes"
	KeySessionAttached = "session_attached"
	KeyClientName      = "client_name"
	KeyClientTTY       = "client_tty"
	KeyClientTermName  = "client_termname"
	KeyClientSession   = "client_session"
	KeyPaneID          = "pane_id"
	KeyPaneIndex       = "pane_index"
	KeyPaneTitle       = "pane_title"
	KeyPaneInMode      = "pane_in_mode"
)

var aliases = map[byte]string{
	'H': KeyHost,
	'h': KeyHostShort,
	'S': KeySessionName,
	'D': KeyPaneID,
	'P': KeyPaneIndex,
	'T': KeyPaneTitle,
}

// Tree holds the values a template can reference. The zero value is empty
// and ready to use.
type Tree struct {
	values map[string]string
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{values: make(map[string]string)}
}

// Add sets key to value. Empty keys are ignored.
func (t *Tree) Add(key, value string) {
	if t == nil || key == "" {
		return
	}
	if t.values == nil {
		t.values = make(map[string]string)
	}
	t.values[key] = value
}

// AddInt sets key to the decimal form of value.
func (t *Tree) AddInt(key string, value int) {
	t.Add(key, strconv.Itoa(value))
}

// AddBool sets key to "1" or "0".
func (t *Tree) AddBool(key string, value bool) {
	if value {
		t.Add(key, "1")
		return
	}
	t.Add(key, "0")
}

// Get returns the value for key.
func (t *Tree) Get(key string) (string, bool) {
	if t == nil || t.values == nil {
		return "", false
	}
	value, ok := t.values[key]
	return value, ok
}

// Keys returns the populated keys in sorted order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	keys := make([]string, 0, len(t.values))
	for key := range t.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Expand replaces placeholders in template. It never fails: unknown keys
// expand to the empty string, and unterminated or unknown sequences are
// copied as they are.
func (t *Tree) Expand(template string) string {
	if strings.IndexByte(template, '#') < 0 {
		return template
	}
	var out strings.Builder
	out.Grow(len(template))
	for i := 0; i < len(template); i++ {
		ch := template[i]
		if ch != '#' || i+1 >= len(template) {
			out.WriteByte(ch)
			continue
		}
		next := template[i+1]
		switch {
		case next == '#':
			out.WriteByte('#')
			i++
		case next == '{':
			end := strings.IndexByte(template[i+2:], '}')
			if end < 0 {
				out.WriteString(template[i:])
				return out.String()
			}
			key := template[i+2 : i+2+end]
			value, _ := t.Get(key)
			out.WriteString(value)
			i += 2 + end
		default:
			key, ok := aliases[next]
			if !ok {
				out.WriteByte(ch)
				continue
			}
			value, _ := t.Get(key)
			out.WriteString(value)
			i++
		}
	}
	return out.String()
}
