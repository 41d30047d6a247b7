package schema

import "strings"

// ServiceConfig defines defaults and limits for the multiplexer state.
type ServiceConfig struct {
	BufferMaxLines int
	DefaultSession string
	// DisableAuditLogging disables audit trail debug logs for commands.
	DisableAuditLogging bool
}

// DefaultBufferMaxLines is the default per-pane capture buffer limit.
const DefaultBufferMaxLines = 2000

// DefaultSessionName names the session created for clients that attach to
// an empty server.
const DefaultSessionName = "0"

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.BufferMaxLines <= 0 {
		cfg.BufferMaxLines = DefaultBufferMaxLines
	}
	if strings.TrimSpace(cfg.DefaultSession) == "" {
		cfg.DefaultSession = DefaultSessionName
	}
	name, err := NormalizeSessionName(cfg.DefaultSession)
	if err != nil {
		return ServiceConfig{}, err
	}
	cfg.DefaultSession = name
	return cfg, nil
}
