package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PARLEY_GATEWAY_PORT.
const EnvPrefix = "PARLEY"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path selects
// ~/.parley/parley.json.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, applies PARLEY_* environment overrides and
// fills derived paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := l.newViper(configPath)
	for key, value := range settings(DefaultConfig()) {
		v.SetDefault(key, value)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}
	if cfg.Transcript.Dir == "" {
		cfg.Transcript.Dir = filepath.Join(cfg.DataDir, "transcripts")
	}

	return cfg, nil
}

// Save writes cfg to the loader's path, creating the directory if needed.
// The file is readable by the owner only since it may hold the shared
// secret.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := l.newViper(configPath)
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(configPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultConfigPath()
}

// DefaultConfigPath is ~/.parley/parley.json, or a relative .parley
// directory when no home directory is known.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".parley", "parley.json")
	}
	return filepath.Join(home, ".parley", "parley.json")
}

func (l *Loader) newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("json")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// settings flattens cfg into viper keys. Durations are written as
// strings so the file stays readable ("10s" rather than nanoseconds).
func settings(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"dialogue.dialogue_timeout":   cfg.Dialogue.DialogueTimeout.String(),
		"dialogue.controller_timeout": cfg.Dialogue.ControllerTimeout.String(),

		"session.session_timeout":     cfg.Session.SessionTimeout.String(),
		"session.session_scan_period": cfg.Session.SessionScanPeriod.String(),

		"gateway.host":                cfg.Gateway.Host,
		"gateway.port":                cfg.Gateway.Port,
		"gateway.shared_secret":       cfg.Gateway.SharedSecret,
		"gateway.requests_per_minute": cfg.Gateway.RequestsPerMinute,
		"gateway.max_concurrent":      cfg.Gateway.MaxConcurrent,
		"gateway.shutdown_timeout":    cfg.Gateway.ShutdownTimeout.String(),

		"logging.level":      cfg.Logging.Level,
		"logging.file":       cfg.Logging.File,
		"logging.pretty":     cfg.Logging.Pretty,
		"logging.redaction":  cfg.Logging.Redaction,
		"logging.max_size":   cfg.Logging.MaxSize,
		"logging.max_age":    cfg.Logging.MaxAge,
		"logging.compress":   cfg.Logging.Compress,
		"logging.audit_file": cfg.Logging.AuditFile,

		"transcript.enabled":        cfg.Transcript.Enabled,
		"transcript.dir":            cfg.Transcript.Dir,
		"transcript.retention":      cfg.Transcript.Retention.String(),
		"transcript.prune_schedule": cfg.Transcript.PruneSchedule,

		"tracing.enabled":      cfg.Tracing.Enabled,
		"tracing.service_name": cfg.Tracing.ServiceName,
		"tracing.sample_ratio": cfg.Tracing.SampleRatio,

		"data_dir": cfg.DataDir,
	}
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
