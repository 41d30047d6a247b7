package sshserver

// DefaultPrompt is shown to interactive clients when no prompt is configured.
const DefaultPrompt = "muxrun> "

// Config defines SSH server settings.
type Config struct {
	Addr        string
	HostKeyPath string
	// AuthorizedKeysPath lists the public keys allowed to connect. When the
	// file does not exist every client is accepted.
	AuthorizedKeysPath string
	Prompt             string
}
