package session

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/rs/zerolog/log"
)

// Start launches the idle sweep, running every ScanPeriod
func (r *Registry) Start() error {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	if r.running {
		return fmt.Errorf("session sweeper is already running")
	}

	ticker := r.clock.NewTicker(r.scanPeriod)
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.running = true

	go func(stopCh, doneCh chan struct{}) {
		defer close(doneCh)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C():
				r.SweepNow()
			case <-stopCh:
				return
			}
		}
	}(r.stopCh, r.doneCh)

	log.Info().
		Dur("idle_timeout", r.idleTimeout).
		Dur("scan_period", r.scanPeriod).
		Msg("Session sweeper started")

	return nil
}

// Stop halts the idle sweep and waits for an in-progress sweep to finish
func (r *Registry) Stop() error {
	r.sweepMu.Lock()
	if !r.running {
		r.sweepMu.Unlock()
		return fmt.Errorf("session sweeper is not running")
	}
	close(r.stopCh)
	doneCh := r.doneCh
	r.running = false
	r.sweepMu.Unlock()

	<-doneCh
	log.Info().Msg("Session sweeper stopped")
	return nil
}

// IsRunning reports whether the idle sweep is active
func (r *Registry) IsRunning() bool {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	return r.running
}

// SweepNow evicts every session idle for longer than the idle timeout, and
// every session whose channel is already terminated, and returns how many
// were evicted.
func (r *Registry) SweepNow() int {
	start := time.Now()
	defer func() {
		observability.RecordSweep(time.Since(start))
	}()

	r.mu.RLock()
	var candidates []*Session
	for _, s := range r.sessions {
		if s.IsTerminal() || s.idle(r.idleTimeout) {
			candidates = append(candidates, s)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return 0
	}

	// A candidate may have been used or replaced since the snapshot.
	r.mu.Lock()
	evicted := make([]*Session, 0, len(candidates))
	for _, s := range candidates {
		if current, ok := r.sessions[s.ID]; !ok || current != s {
			continue
		}
		if !s.IsTerminal() && !s.idle(r.idleTimeout) {
			continue
		}
		delete(r.sessions, s.ID)
		evicted = append(evicted, s)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if len(evicted) == 0 {
		return 0
	}

	observability.SetActiveSessions(count)
	r.retire(context.Background(), evicted, reasonIdle)

	for _, s := range evicted {
		log.Debug().
			Str("session_id", s.ID).
			Time("last_access", s.LastAccess()).
			Msg("Session evicted")
	}
	log.Info().Int("evicted", len(evicted)).Int("remaining", count).Msg("Idle sessions swept")

	return len(evicted)
}
