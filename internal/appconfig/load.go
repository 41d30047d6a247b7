package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/muxrun/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("service.buffer_max_lines", cfg.Service.BufferMaxLines)
	v.SetDefault("service.default_session", cfg.Service.DefaultSession)
	v.SetDefault("scheduler.backend", cfg.Scheduler.Backend)
	v.SetDefault("scheduler.shell", cfg.Scheduler.Shell)
	v.SetDefault("scheduler.dir", cfg.Scheduler.Dir)
	v.SetDefault("scheduler.env", cfg.Scheduler.Env)
	v.SetDefault("scheduler.shutdown_timeout_seconds", cfg.Scheduler.ShutdownTimeoutSeconds)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys_path", cfg.SSH.AuthorizedKeysPath)
	v.SetDefault("ssh.prompt", cfg.SSH.Prompt)
	v.SetDefault("logging.disable_audit_trails", cfg.Logging.DisableAuditTrails)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if configLoaded {
		env, err := readSchedulerEnv(path)
		if err != nil {
			return Config{}, err
		}
		if env != nil {
			cfg.Scheduler.Env = env
		}
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ServiceConfig converts the service section to the schema form.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		BufferMaxLines:      c.Service.BufferMaxLines,
		DefaultSession:      c.Service.DefaultSession,
		DisableAuditLogging: c.Logging.DisableAuditTrails,
	}
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

// readSchedulerEnv reads scheduler.env straight from the YAML file, since
// viper folds map keys to lower case and environment names are not.
func readSchedulerEnv(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Scheduler struct {
			Env map[string]string `yaml:"env"`
		} `yaml:"scheduler"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("scheduler.env: %w", err)
	}
	return raw.Scheduler.Env, nil
}

func validate(cfg Config) error {
	switch cfg.Scheduler.Backend {
	case BackendExec, BackendVirtual:
	default:
		return fmt.Errorf("unsupported scheduler.backend %q", cfg.Scheduler.Backend)
	}
	if cfg.Service.BufferMaxLines < 0 {
		return fmt.Errorf("service.buffer_max_lines must not be negative")
	}
	if _, err := schema.NormalizeSessionName(cfg.Service.DefaultSession); err != nil {
		return fmt.Errorf("service.default_session %q: %w", cfg.Service.DefaultSession, err)
	}
	if cfg.Scheduler.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("scheduler.shutdown_timeout_seconds must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Scheduler.Shell = expandEnv(cfg.Scheduler.Shell)
	cfg.Scheduler.Dir = expandEnv(cfg.Scheduler.Dir)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeysPath = expandEnv(cfg.SSH.AuthorizedKeysPath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
