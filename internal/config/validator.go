package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDuration requires a strictly positive duration.
func (v *Validator) ValidateDuration(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// ValidatePort accepts 0 (pick a free port) through 65535.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	for _, valid := range logLevels {
		if strings.EqualFold(level, valid) {
			return nil
		}
	}
	return fmt.Errorf("invalid log level %q (must be one of: %s)", level, strings.Join(logLevels, ", "))
}

// ValidateSampleRatio requires a ratio in [0, 1].
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample_ratio must be between 0 and 1, got %g", ratio)
	}
	return nil
}

// ValidateSchedule parses a standard five field cron expression or a
// descriptor such as @hourly.
func (v *Validator) ValidateSchedule(expr string) error {
	if expr == "" {
		return fmt.Errorf("prune_schedule cannot be empty")
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid prune_schedule %q: %w", expr, err)
	}
	return nil
}

// ValidateConfig validates the entire configuration
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	check(v.ValidateDuration("dialogue.dialogue_timeout", cfg.Dialogue.DialogueTimeout))
	check(v.ValidateDuration("dialogue.controller_timeout", cfg.Dialogue.ControllerTimeout))
	check(v.ValidateDuration("session.session_timeout", cfg.Session.SessionTimeout))
	check(v.ValidateDuration("session.session_scan_period", cfg.Session.SessionScanPeriod))
	if cfg.Session.SessionScanPeriod > cfg.Session.SessionTimeout {
		errs = append(errs, fmt.Errorf("session.session_scan_period (%s) must not exceed session.session_timeout (%s)",
			cfg.Session.SessionScanPeriod, cfg.Session.SessionTimeout))
	}

	check(v.ValidatePort(cfg.Gateway.Port))
	if cfg.Gateway.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("gateway.requests_per_minute cannot be negative"))
	}
	if cfg.Gateway.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_concurrent cannot be negative"))
	}
	if cfg.Gateway.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("gateway.shutdown_timeout cannot be negative"))
	}

	check(v.ValidateLogLevel(cfg.Logging.Level))

	if cfg.Transcript.Enabled && cfg.Transcript.Retention > 0 {
		check(v.ValidateSchedule(cfg.Transcript.PruneSchedule))
	}
	if cfg.Transcript.Retention < 0 {
		errs = append(errs, fmt.Errorf("transcript.retention cannot be negative"))
	}

	if cfg.Tracing.Enabled {
		check(v.ValidateSampleRatio(cfg.Tracing.SampleRatio))
	}

	return errs
}
