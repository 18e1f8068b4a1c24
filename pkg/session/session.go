package session

import (
	"context"
	"sync"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/clock"
	"github.com/harun/parley/pkg/dialogue"
	"github.com/harun/parley/pkg/turn"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Session pairs a conversation id with its turn-exchange channel
type Session struct {
	ID      string
	Program string
	// Data is owned by whoever created the session
	Data any

	channel *dialogue.Channel

	mu         sync.Mutex
	clock      clock.Clock
	registry   *Registry
	createdAt  time.Time
	lastAccess time.Time
	timeout    time.Duration
}

// New wraps ch in a session. Sessions built by Registry.NewSession are
// configured from the registry; New is for callers that build channels
// themselves.
func New(id, program string, ch *dialogue.Channel, data any) *Session {
	if ch == nil {
		ch = dialogue.NewChannel(dialogue.Options{Label: id})
	}
	c := clock.Real()
	now := c.Now()
	return &Session{
		ID:         id,
		Program:    program,
		Data:       data,
		channel:    ch,
		clock:      c,
		createdAt:  now,
		lastAccess: now,
		timeout:    dialogue.DefaultDialogueTimeout,
	}
}

// Channel returns the session's turn-exchange channel
func (s *Session) Channel() *dialogue.Channel {
	return s.channel
}

// IsTerminal reports whether the channel no longer accepts calls
func (s *Session) IsTerminal() bool {
	return s.channel.IsTerminated()
}

// CreatedAt returns when the session was registered
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// LastAccess returns the time of the last driver call that returned a result
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = s.clock.Now()
	s.mu.Unlock()
}

func (s *Session) idle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clock.Expired(s.clock, s.lastAccess, timeout)
}

// DialogueTimeout returns the default driver deadline of the session
func (s *Session) DialogueTimeout() time.Duration {
	return s.timeout
}

// Start runs program with firstInput and waits for its first result using
// the session's default driver timeout
func (s *Session) Start(ctx context.Context, program dialogue.Program, firstInput any) (turn.Result, error) {
	return s.StartTimeout(ctx, program, firstInput, s.timeout)
}

// StartTimeout is Start with an explicit driver timeout
func (s *Session) StartTimeout(ctx context.Context, program dialogue.Program, firstInput any, timeout time.Duration) (turn.Result, error) {
	return s.call(ctx, "start", firstInput, true, func(ctx context.Context) (turn.Result, error) {
		return s.channel.Start(ctx, program, firstInput, timeout)
	})
}

// Exchange hands input to the program and waits for its next result
func (s *Session) Exchange(ctx context.Context, input any) (turn.Result, error) {
	return s.ExchangeTimeout(ctx, input, s.timeout)
}

// ExchangeTimeout is Exchange with an explicit driver timeout
func (s *Session) ExchangeTimeout(ctx context.Context, input any, timeout time.Duration) (turn.Result, error) {
	return s.call(ctx, "exchange", input, true, func(ctx context.Context) (turn.Result, error) {
		return s.channel.Exchange(ctx, input, timeout)
	})
}

// Collect waits for the result of a turn whose driver gave up waiting
func (s *Session) Collect(ctx context.Context) (turn.Result, error) {
	return s.CollectTimeout(ctx, s.timeout)
}

// CollectTimeout is Collect with an explicit driver timeout
func (s *Session) CollectTimeout(ctx context.Context, timeout time.Duration) (turn.Result, error) {
	return s.call(ctx, "collect", nil, false, func(ctx context.Context) (turn.Result, error) {
		return s.channel.Collect(ctx, timeout)
	})
}

// Terminate stops the session's channel without removing the session
func (s *Session) Terminate(reason error) {
	s.channel.Terminate(reason)
}

func (s *Session) call(ctx context.Context, op string, input any, hasInput bool, fn func(context.Context) (turn.Result, error)) (turn.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, s.ID)
	if s.Program != "" {
		ctx = tracing.WithProgram(ctx, s.Program)
	}
	ctx, span := tracing.StartSpan(ctx, "dialogue."+op,
		attribute.String("session_id", s.ID),
		attribute.String("program", s.Program),
	)
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()
	res, err := fn(ctx)
	elapsed := time.Since(start)
	tracing.EndSpan(span, err)

	if err != nil {
		kind := dialogue.KindOf(err)
		observability.RecordExchange(op, kind.String(), elapsed)
		if kind == dialogue.KindTimeout {
			observability.RecordTimeout(string(dialogue.SideOf(err)))
		}
		logger.Debug().Str("op", op).Err(err).Msg("Dialogue call failed")
		return res, err
	}

	s.touch()
	s.record(ctx, hasInput, Entry{Kind: EntryInput, Value: input})
	observability.RecordExchange(op, res.Kind().String(), elapsed)

	entry := Entry{Kind: res.Kind().String(), Value: res.Value()}
	if res.Err() != nil {
		entry.Error = res.Err().Error()
		if dialogue.IsTimeout(res.Err()) {
			observability.RecordTimeout(string(dialogue.SideOf(res.Err())))
		} else {
			observability.RecordProgramFailure(s.Program)
		}
	}
	s.record(ctx, true, entry)

	logger.Debug().
		Str("op", op).
		Str("kind", res.Kind().String()).
		Int("turn", s.channel.Turns()).
		Msg("Dialogue turn delivered")

	if res.IsTerminal() {
		s.mu.Lock()
		reg := s.registry
		s.mu.Unlock()
		if reg != nil {
			reg.release(ctx, s, reasonCompleted)
		}
	}
	return res, nil
}

func (s *Session) record(ctx context.Context, ok bool, entry Entry) {
	if !ok {
		return
	}
	s.mu.Lock()
	reg := s.registry
	s.mu.Unlock()
	if reg == nil || reg.transcript == nil {
		return
	}

	entry.SessionID = s.ID
	entry.Turn = s.channel.Turns()
	entry.Timestamp = s.clock.Now()
	if err := reg.transcript.Append(ctx, entry); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to append transcript entry")
	}
}
