package config

import (
	"errors"
	"time"
)

// Config is the on-disk configuration of a parley daemon.
type Config struct {
	Dialogue   DialogueConfig   `json:"dialogue" yaml:"dialogue" mapstructure:"dialogue"`
	Session    SessionConfig    `json:"session" yaml:"session" mapstructure:"session"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway" mapstructure:"gateway"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" mapstructure:"logging"`
	Transcript TranscriptConfig `json:"transcript" yaml:"transcript" mapstructure:"transcript"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
	DataDir    string           `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
}

// DialogueConfig holds the default deadlines of the two sides of a dialogue.
type DialogueConfig struct {
	// DialogueTimeout bounds how long the driver waits for the program.
	DialogueTimeout time.Duration `json:"dialogue_timeout" yaml:"dialogue_timeout" mapstructure:"dialogue_timeout"`
	// ControllerTimeout bounds how long the program waits for the next input.
	ControllerTimeout time.Duration `json:"controller_timeout" yaml:"controller_timeout" mapstructure:"controller_timeout"`
}

type SessionConfig struct {
	SessionTimeout    time.Duration `json:"session_timeout" yaml:"session_timeout" mapstructure:"session_timeout"`
	SessionScanPeriod time.Duration `json:"session_scan_period" yaml:"session_scan_period" mapstructure:"session_scan_period"`
}

type GatewayConfig struct {
	Host              string        `json:"host" yaml:"host" mapstructure:"host"`
	Port              int           `json:"port" yaml:"port" mapstructure:"port"`
	SharedSecret      string        `json:"shared_secret" yaml:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int           `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int           `json:"max_concurrent" yaml:"max_concurrent" mapstructure:"max_concurrent"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level     string `json:"level" yaml:"level" mapstructure:"level"`
	File      string `json:"file" yaml:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" yaml:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" yaml:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"`
	MaxAge    int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"`
	Compress  bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
	AuditFile string `json:"audit_file" yaml:"audit_file" mapstructure:"audit_file"`
}

// TranscriptConfig controls the per-session JSONL transcripts.
type TranscriptConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" yaml:"dir" mapstructure:"dir"`
	// Retention is how long transcripts are kept. Zero keeps them forever.
	Retention time.Duration `json:"retention" yaml:"retention" mapstructure:"retention"`
	// PruneSchedule is a cron expression for the retention job.
	PruneSchedule string `json:"prune_schedule" yaml:"prune_schedule" mapstructure:"prune_schedule"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Dialogue: DialogueConfig{
			DialogueTimeout:   10 * time.Second,
			ControllerTimeout: 5 * time.Minute,
		},
		Session: SessionConfig{
			SessionTimeout:    30 * time.Minute,
			SessionScanPeriod: 2 * time.Minute,
		},
		Gateway: GatewayConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			RequestsPerMinute: 120,
			MaxConcurrent:     10,
			ShutdownTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
		Transcript: TranscriptConfig{
			Enabled:       true,
			Retention:     7 * 24 * time.Hour,
			PruneSchedule: "@hourly",
		},
		Tracing: TracingConfig{
			ServiceName: "parley",
			SampleRatio: 1.0,
		},
	}
}

// String renders the configuration as indented JSON with the shared
// secret masked.
func (c *Config) String() string {
	data, err := Render(c, FormatJSON)
	if err != nil {
		return err.Error()
	}
	return string(data)
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
