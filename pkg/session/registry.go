package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/pkg/clock"
	"github.com/harun/parley/pkg/dialogue"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultScanPeriod   = 2 * time.Minute
	DefaultDrainTimeout = 5 * time.Second
)

// Reasons a session leaves the registry; also used as termination causes
var (
	ErrEvicted  = errors.New("session evicted after idle timeout")
	ErrRemoved  = errors.New("session removed")
	ErrShutdown = errors.New("session registry shut down")
)

// ErrInvalidSession is returned when a factory yields an unusable session
var ErrInvalidSession = errors.New("invalid session")

const (
	reasonCompleted = "completed"
	reasonIdle      = "idle"
	reasonRemoved   = "removed"
	reasonShutdown  = "shutdown"
)

// Factory builds the session for id. It runs without the registry lock, so
// other ids stay usable while it works; concurrent callers for the same id
// wait for its result instead of calling their own factory.
type Factory func(id string) (*Session, error)

// pendingCreate is a factory call in progress for one id
type pendingCreate struct {
	done    chan struct{}
	session *Session
	err     error
}

// Config configures a Registry. Zero durations take the package defaults.
type Config struct {
	// IdleTimeout is how long a session may go without a delivered result
	IdleTimeout time.Duration
	// ScanPeriod is the interval between idle sweeps
	ScanPeriod time.Duration
	// DialogueTimeout is the default driver deadline of sessions built by NewSession
	DialogueTimeout time.Duration
	// ControllerTimeout is the default program deadline; negative disables it
	ControllerTimeout time.Duration
	Clock             clock.Clock
	// Transcript, when set, receives every delivered turn
	Transcript *Transcript
	// DrainTimeout bounds how long Shutdown waits for program goroutines
	DrainTimeout time.Duration
}

// Registry maps conversation ids to live sessions
type Registry struct {
	idleTimeout       time.Duration
	scanPeriod        time.Duration
	dialogueTimeout   time.Duration
	controllerTimeout time.Duration
	clock             clock.Clock
	transcript        *Transcript
	drainTimeout      time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	creating map[string]*pendingCreate

	sweepMu sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRegistry creates an empty registry. The idle sweep does not run until
// Start is called.
func NewRegistry(cfg Config) *Registry {
	observability.EnsureRegistered()

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ScanPeriod <= 0 {
		cfg.ScanPeriod = DefaultScanPeriod
	}
	if cfg.DialogueTimeout == 0 {
		cfg.DialogueTimeout = dialogue.DefaultDialogueTimeout
	}
	if cfg.ControllerTimeout == 0 {
		cfg.ControllerTimeout = dialogue.DefaultControllerTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}

	return &Registry{
		idleTimeout:       cfg.IdleTimeout,
		scanPeriod:        cfg.ScanPeriod,
		dialogueTimeout:   cfg.DialogueTimeout,
		controllerTimeout: cfg.ControllerTimeout,
		clock:             cfg.Clock,
		transcript:        cfg.Transcript,
		drainTimeout:      cfg.DrainTimeout,
		sessions:          make(map[string]*Session),
		creating:          make(map[string]*pendingCreate),
	}
}

// NewSession builds an unregistered session whose channel and deadlines
// follow the registry configuration. It is meant to be called from a Factory.
func (r *Registry) NewSession(id, program string, data any) *Session {
	ch := dialogue.NewChannel(dialogue.Options{
		ProgramTimeout: r.controllerTimeout,
		Clock:          r.clock,
		Label:          id,
	})
	s := New(id, program, ch, data)
	s.clock = r.clock
	s.timeout = r.dialogueTimeout
	return s
}

// GetOrCreate returns the live session for id, or registers the one built
// by factory. The boolean reports whether factory was used. A terminal
// session under id is discarded and replaced.
func (r *Registry) GetOrCreate(id string, factory Factory) (*Session, bool, error) {
	if err := validateID(id); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if factory == nil {
		return nil, false, fmt.Errorf("%w: nil factory", ErrInvalidSession)
	}

	r.mu.RLock()
	existing, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok && !existing.IsTerminal() {
		return existing, false, nil
	}

	r.mu.Lock()
	existing, ok = r.sessions[id]
	if ok && !existing.IsTerminal() {
		r.mu.Unlock()
		return existing, false, nil
	}
	if p, busy := r.creating[id]; busy {
		r.mu.Unlock()
		<-p.done
		if p.err != nil {
			return nil, false, p.err
		}
		return p.session, false, nil
	}
	if ok {
		delete(r.sessions, id)
	}
	p := &pendingCreate{done: make(chan struct{})}
	r.creating[id] = p
	r.mu.Unlock()

	s, err := r.create(id, factory, p)
	if err != nil {
		return nil, false, err
	}

	observability.RecordSessionCreated(s.Program)
	observability.RecordSessionAudit(context.Background(), id, "session.created", "success", map[string]interface{}{
		"program": s.Program,
	})
	log.Debug().Str("session_id", id).Str("program", s.Program).Msg("Session created")

	return s, true, nil
}

// create runs factory for the pending id and publishes the outcome to p.
// The pending entry is cleared even if factory panics.
func (r *Registry) create(id string, factory Factory, p *pendingCreate) (s *Session, err error) {
	defer func() {
		if v := recover(); v != nil {
			s, err = nil, fmt.Errorf("%w: factory panicked for %q: %v", ErrInvalidSession, id, v)
		}

		r.mu.Lock()
		delete(r.creating, id)
		if err == nil {
			now := r.clock.Now()
			s.mu.Lock()
			s.registry = r
			s.clock = r.clock
			s.createdAt = now
			s.lastAccess = now
			s.mu.Unlock()
			r.sessions[id] = s
		}
		count := len(r.sessions)
		r.mu.Unlock()

		if err == nil {
			observability.SetActiveSessions(count)
		}
		p.session, p.err = s, err
		close(p.done)
	}()

	s, err = factory(id)
	if err != nil {
		return nil, err
	}
	if s == nil || s.ID != id || s.channel == nil {
		return nil, fmt.Errorf("%w: factory returned no session for %q", ErrInvalidSession, id)
	}
	return s, nil
}

// Get returns the session for id without refreshing its last access
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, dialogue.NotFound("get", id)
	}
	return s, nil
}

// Remove unregisters the session for id and terminates its channel
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return dialogue.NotFound("remove", id)
	}

	observability.SetActiveSessions(count)
	r.retire(context.Background(), []*Session{s}, reasonRemoved)
	return nil
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered session ids, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Sessions returns a snapshot of the registered sessions ordered by id
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Shutdown stops the sweeper, terminates every registered session and waits
// up to the drain timeout for their program goroutines to exit.
func (r *Registry) Shutdown() {
	_ = r.Stop()

	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	observability.SetActiveSessions(0)
	r.retire(context.Background(), all, reasonShutdown)

	if pending := r.drain(all); pending > 0 {
		log.Warn().
			Int("pending", pending).
			Dur("timeout", r.drainTimeout).
			Msg("Programs still running after shutdown drain")
	}

	log.Info().Int("sessions", len(all)).Msg("Session registry shut down")
}

// drain waits for the program goroutines of sessions to exit and returns
// how many were still running when the drain timeout passed. The timeout is
// wall time since it bounds real goroutines, not session deadlines.
func (r *Registry) drain(sessions []*Session) int {
	if len(sessions) == 0 {
		return 0
	}

	timer := time.NewTimer(r.drainTimeout)
	defer timer.Stop()

	for i, s := range sessions {
		select {
		case <-s.Channel().Done():
		case <-timer.C:
			pending := 0
			for _, rest := range sessions[i:] {
				select {
				case <-rest.Channel().Done():
				default:
					pending++
				}
			}
			return pending
		}
	}
	return 0
}

// release removes s if it is still the session registered under its id.
// The channel already reached a terminal result, so it is not terminated.
func (r *Registry) release(ctx context.Context, s *Session, reason string) {
	r.mu.Lock()
	current, ok := r.sessions[s.ID]
	if ok && current == s {
		delete(r.sessions, s.ID)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok || current != s {
		return
	}

	observability.SetActiveSessions(count)
	observability.RecordSessionRemoved(reason, 1)
	observability.RecordSessionAudit(ctx, s.ID, "session."+reason, "success", nil)
	log.Debug().Str("session_id", s.ID).Str("reason", reason).Msg("Session released")
}

// retire terminates sessions that were already unregistered. It must be
// called without r.mu held.
func (r *Registry) retire(ctx context.Context, sessions []*Session, reason string) {
	if len(sessions) == 0 {
		return
	}

	cause := ErrRemoved
	entryKind := EntryRemoved
	switch reason {
	case reasonIdle:
		cause = ErrEvicted
		entryKind = EntryEvicted
	case reasonShutdown:
		cause = ErrShutdown
	}

	for _, s := range sessions {
		s.Terminate(cause)
		s.record(ctx, true, Entry{Kind: entryKind, Error: cause.Error()})
		observability.RecordSessionAudit(ctx, s.ID, "session."+reason, "success", map[string]interface{}{
			"program": s.Program,
		})
	}
	observability.RecordSessionRemoved(reason, len(sessions))
}
