package daemon

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StatsSchedule is how often the daemon logs its session counts
const StatsSchedule = "@every 1m"

// Maintenance runs the daemon's periodic jobs on a cron scheduler.
// Idle eviction is not among them; the session registry sweeps itself.
type Maintenance struct {
	daemon *Daemon
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
}

func newMaintenance(d *Daemon) (*Maintenance, error) {
	logger := cronLogger{log: d.logger.Component("maintenance")}
	m := &Maintenance{
		daemon: d,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobs: make(map[string]cron.EntryID),
	}

	if err := m.add("stats", StatsSchedule, m.logStats); err != nil {
		return nil, err
	}

	tc := d.config.Transcript
	if d.transcript != nil && tc.Retention > 0 {
		if err := m.add("transcript-prune", tc.PruneSchedule, func() {
			if _, err := d.PruneTranscripts(); err != nil {
				d.logger.Warn().Err(err).Msg("Transcript pruning failed")
			}
		}); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Maintenance) add(name, spec string, job func()) error {
	id, err := m.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("invalid schedule for %s job: %w", name, err)
	}
	m.jobs[name] = id
	return nil
}

// Start starts the scheduler
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop stops the scheduler and waits up to timeout for running jobs.
func (m *Maintenance) Stop(timeout time.Duration) {
	ctx := m.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
		m.daemon.logger.Warn().Msg("Timeout waiting for maintenance jobs")
	}
}

// Jobs returns the names of the scheduled jobs with their next run time
func (m *Maintenance) Jobs() map[string]time.Time {
	out := make(map[string]time.Time, len(m.jobs))
	for name, id := range m.jobs {
		out[name] = m.cron.Entry(id).Next
	}
	return out
}

func (m *Maintenance) logStats() {
	status := m.daemon.Status()
	m.daemon.logger.Info().
		Int("active_sessions", status.ActiveSessions).
		Dur("uptime", status.Uptime).
		Msg("Daemon stats")
}

// cronLogger adapts zerolog to the cron.Logger interface
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

var _ cron.Logger = cronLogger{}

// PruneTranscripts deletes transcripts older than the configured retention,
// keeping those of sessions that are still registered.
func (d *Daemon) PruneTranscripts() (int, error) {
	if d.transcript == nil || d.config.Transcript.Retention <= 0 {
		return 0, nil
	}
	cutoff := d.clock.Now().Add(-d.config.Transcript.Retention)
	return d.transcript.Prune(cutoff, func(id string) bool {
		_, err := d.registry.Get(id)
		return err == nil
	})
}
