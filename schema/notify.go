package schema

// ClientEventKind describes how a client should present a notification.
type ClientEventKind string

const (
	// ClientEventPrint carries command output for the client.
	ClientEventPrint ClientEventKind = "print"
	// ClientEventInfo carries a short informational message.
	ClientEventInfo ClientEventKind = "info"
	// ClientEventError carries a command error.
	ClientEventError ClientEventKind = "error"
	// ClientEventExit tells a command client it may exit now.
	ClientEventExit ClientEventKind = "exit"
)

// ClientEvent is a notification addressed to a single client.
type ClientEvent struct {
	ClientID ClientID
	Kind     ClientEventKind
	Text     string
}
