package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/muxrun/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	Service       ServiceConfig   `mapstructure:"service" yaml:"service"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	SSH           SSHConfig       `mapstructure:"ssh" yaml:"ssh"`
	Logging       LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Scheduler backends.
const (
	BackendExec    = "exec"
	BackendVirtual = "virtual"
)

// ServiceConfig controls multiplexer state.
type ServiceConfig struct {
	BufferMaxLines int    `mapstructure:"buffer_max_lines" yaml:"buffer_max_lines"`
	DefaultSession string `mapstructure:"default_session" yaml:"default_session"`
}

// SchedulerConfig configures how run-shell commands are executed.
type SchedulerConfig struct {
	Backend                string            `mapstructure:"backend" yaml:"backend"`
	Shell                  string            `mapstructure:"shell" yaml:"shell"`
	Dir                    string            `mapstructure:"dir" yaml:"dir"`
	Env                    map[string]string `mapstructure:"env" yaml:"env"`
	ShutdownTimeoutSeconds int               `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// SSHConfig configures the SSH server.
type SSHConfig struct {
	Addr               string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath        string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
	Prompt             string `mapstructure:"prompt" yaml:"prompt"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Service: ServiceConfig{
			BufferMaxLines: schema.DefaultBufferMaxLines,
			DefaultSession: schema.DefaultSessionName,
		},
		Scheduler: SchedulerConfig{
			Backend:                BackendExec,
			Shell:                  "/bin/sh",
			Dir:                    "",
			Env:                    map[string]string{},
			ShutdownTimeoutSeconds: 10,
		},
		SSH: SSHConfig{
			Addr:               ":27622",
			HostKeyPath:        filepath.Join(home, ".muxrun", "ssh_host_key"),
			AuthorizedKeysPath: filepath.Join(home, ".muxrun", "authorized_keys"),
			Prompt:             "muxrun> ",
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".muxrun", "config.yaml"), nil
}
