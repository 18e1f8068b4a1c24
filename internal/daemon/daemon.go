package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/parley/internal/config"
	"github.com/harun/parley/internal/logger"
	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/clock"
	"github.com/harun/parley/pkg/gateway"
	"github.com/harun/parley/pkg/programs"
	"github.com/harun/parley/pkg/session"
)

// stopTimeout bounds how long Stop waits for background jobs
const stopTimeout = 5 * time.Second

// Daemon wires the session registry, program catalog and gateway into one
// long-running service.
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger
	clock      clock.Clock

	catalog     *programs.Catalog
	transcript  *session.Transcript
	registry    *session.Registry
	gateway     *gateway.Server
	maintenance *Maintenance
	watcher     *config.Watcher
	lifecycle   *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
	auditFile      bool
}

// Option customises a Daemon
type Option func(*Daemon)

// WithCatalog serves programs from c instead of the built-in catalog
func WithCatalog(c *programs.Catalog) Option {
	return func(d *Daemon) { d.catalog = c }
}

// WithClock replaces the clock that drives session deadlines and eviction
func WithClock(c clock.Clock) Option {
	return func(d *Daemon) { d.clock = c }
}

// WithConfigWatch reloads hot settings when the file at path changes
func WithConfigWatch(path string) Option {
	return func(d *Daemon) { d.configPath = path }
}

// Status represents daemon status
type Status struct {
	Running        bool          `json:"running"`
	Uptime         time.Duration `json:"uptime"`
	StartTime      time.Time     `json:"start_time,omitempty"`
	Address        string        `json:"address,omitempty"`
	ActiveSessions int           `json:"active_sessions"`
	Programs       []string      `json:"programs"`
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config: cfg,
		logger: log,
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.catalog == nil {
		d.catalog = programs.Default()
	}

	observability.EnsureRegistered()

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		d.auditFile = true
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initialize(); err != nil {
		d.releaseObservability()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config

	if cfg.Transcript.Enabled {
		t, err := session.NewTranscript(cfg.Transcript.Dir)
		if err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		d.transcript = t
	}

	d.registry = session.NewRegistry(session.Config{
		IdleTimeout:       cfg.Session.SessionTimeout,
		ScanPeriod:        cfg.Session.SessionScanPeriod,
		DialogueTimeout:   cfg.Dialogue.DialogueTimeout,
		ControllerTimeout: cfg.Dialogue.ControllerTimeout,
		Clock:             d.clock,
		Transcript:        d.transcript,
		DrainTimeout:      stopTimeout,
	})

	gw, err := gateway.NewServer(gateway.Config{
		Host:              cfg.Gateway.Host,
		Port:              cfg.Gateway.Port,
		SharedSecret:      cfg.Gateway.SharedSecret,
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		MaxConcurrent:     cfg.Gateway.MaxConcurrent,
		ShutdownTimeout:   cfg.Gateway.ShutdownTimeout,
		Registry:          d.registry,
		Catalog:           d.catalog,
		Logger:            d.logger.Component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	d.gateway = gw

	d.maintenance, err = newMaintenance(d)
	if err != nil {
		return err
	}

	if d.configPath != "" {
		d.watcher, err = config.NewWatcher(config.NewLoader(d.configPath), 0, d.applyConfig)
		if err != nil {
			return err
		}
	}

	d.lifecycle = NewLifecycleManager(d)
	return nil
}

// Start brings up the sweeper, the gateway and the scheduled jobs
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	log := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Starting parley daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.registry.Start(); err != nil {
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}

	if err := d.gateway.Start(); err != nil {
		_ = d.registry.Stop()
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	log.Info().Str("addr", d.gateway.Addr()).Msg("Gateway server started")

	d.maintenance.Start()

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Config watcher disabled")
			d.watcher = nil
		}
	}

	d.running = true
	d.startTime = time.Now()

	log.Info().
		Strs("programs", d.catalog.Names()).
		Dur("session_timeout", d.config.Session.SessionTimeout).
		Msg("Daemon started")
	return nil
}

// Stop shuts the gateway down first so no new turns arrive, then
// terminates every session and flushes tracing.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping parley daemon")

	var errs []error

	if err := d.gateway.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop gateway server")
		errs = append(errs, err)
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	d.maintenance.Stop(stopTimeout)

	d.registry.Shutdown()

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
		errs = append(errs, err)
	}

	d.releaseObservability()

	log.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) releaseObservability() {
	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
	if d.auditFile {
		if err := observability.GetAuditLogger().Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close audit logger")
		}
		d.auditFile = false
	}
}

// Run starts the daemon and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
		d.logger.Info().Msg("Context done")
	}

	return d.Stop()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:        d.running,
		ActiveSessions: d.registry.Len(),
		Programs:       d.catalog.Names(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Address = d.gateway.Addr()
	}
	return status
}

// applyConfig takes over the settings that can change without a restart.
// Other differences are logged and wait for the next start.
func (d *Daemon) applyConfig(next *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.config
	if next.Logging.Level != cur.Logging.Level {
		if err := d.logger.SetLevel(next.Logging.Level); err != nil {
			d.logger.Warn().Err(err).Msg("Keeping previous log level")
		} else {
			cur.Logging.Level = next.Logging.Level
		}
	}

	if next.Gateway.RequestsPerMinute != cur.Gateway.RequestsPerMinute ||
		next.Gateway.MaxConcurrent != cur.Gateway.MaxConcurrent {
		d.gateway.UpdateLimits(next.Gateway.RequestsPerMinute, next.Gateway.MaxConcurrent)
		cur.Gateway.RequestsPerMinute = next.Gateway.RequestsPerMinute
		cur.Gateway.MaxConcurrent = next.Gateway.MaxConcurrent
	}

	if next.Dialogue != cur.Dialogue || next.Session != cur.Session ||
		next.Gateway.Port != cur.Gateway.Port || next.Gateway.Host != cur.Gateway.Host {
		d.logger.Warn().Msg("Deadline, session and listener changes take effect after restart")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetRegistry returns the session registry
func (d *Daemon) GetRegistry() *session.Registry {
	return d.registry
}

// GetCatalog returns the program catalog
func (d *Daemon) GetCatalog() *programs.Catalog {
	return d.catalog
}

// GetTranscript returns the transcript store, nil when disabled
func (d *Daemon) GetTranscript() *session.Transcript {
	return d.transcript
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gateway
}

// GetMaintenance returns the job scheduler
func (d *Daemon) GetMaintenance() *Maintenance {
	return d.maintenance
}
