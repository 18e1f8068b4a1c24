package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/programs"
	"github.com/harun/parley/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// RPC method names served by the gateway
const (
	MethodStart    = "dialogue.start"
	MethodExchange = "dialogue.exchange"
	MethodCollect  = "dialogue.collect"
	MethodEnd      = "dialogue.end"
	MethodSessions = "dialogue.sessions"
	MethodPrograms = "dialogue.programs"
)

// sessionIDAlphabet keeps generated ids URL and file-name safe
const sessionIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-"

// Dialogues drives sessions on behalf of transport requests
type Dialogues struct {
	registry *session.Registry
	catalog  *programs.Catalog
	logger   zerolog.Logger
}

// NewDialogues creates the dialogue service over registry and catalog
func NewDialogues(registry *session.Registry, catalog *programs.Catalog, logger zerolog.Logger) *Dialogues {
	return &Dialogues{registry: registry, catalog: catalog, logger: logger}
}

// StartRequest names the program to run and its first input
type StartRequest struct {
	Program string
	// Version is an optional semver constraint on the program
	Version   string
	Input     interface{}
	SessionID string
	Timeout   time.Duration
}

// Start creates the session (generating an id when none is given) and
// runs the program with the first input until its first result.
func (d *Dialogues) Start(ctx context.Context, req StartRequest) (TurnView, error) {
	program, sessionID, input := req.Program, req.SessionID, req.Input

	if err := d.catalog.CheckVersion(program, req.Version); err != nil {
		return TurnView{}, err
	}
	prog, err := d.catalog.Program(program)
	if err != nil {
		return TurnView{}, err
	}
	if err := d.catalog.ValidateStart(program, input); err != nil {
		return TurnView{}, err
	}

	if sessionID == "" {
		sessionID, err = gonanoid.Generate(sessionIDAlphabet, 21)
		if err != nil {
			return TurnView{}, fmt.Errorf("failed to generate session id: %w", err)
		}
	}

	s, created, err := d.registry.GetOrCreate(sessionID, func(id string) (*session.Session, error) {
		return d.registry.NewSession(id, program, map[string]interface{}{
			"client_id": ClientIDFromContext(ctx),
		}), nil
	})
	if err != nil {
		return TurnView{}, err
	}

	logger := tracing.LoggerFromContext(ctx, d.logger)
	logger.Debug().
		Str("session_id", sessionID).
		Str("program", program).
		Bool("created", created).
		Msg("Starting dialogue")

	res, err := s.StartTimeout(ctx, prog, input, timeoutOr(s, req.Timeout))
	if err != nil {
		return TurnView{}, err
	}
	return renderTurn(s, res), nil
}

// Exchange sends input to an existing session and waits for the next result
func (d *Dialogues) Exchange(ctx context.Context, sessionID string, input interface{}, timeout time.Duration) (TurnView, error) {
	s, err := d.registry.Get(sessionID)
	if err != nil {
		return TurnView{}, err
	}
	if s.Program != "" {
		if err := d.catalog.ValidateInput(s.Program, input); err != nil {
			return TurnView{}, err
		}
	}

	res, err := s.ExchangeTimeout(ctx, input, timeoutOr(s, timeout))
	if err != nil {
		return TurnView{}, err
	}
	return renderTurn(s, res), nil
}

// Collect fetches the result of a turn whose earlier driver call timed out
func (d *Dialogues) Collect(ctx context.Context, sessionID string, timeout time.Duration) (TurnView, error) {
	s, err := d.registry.Get(sessionID)
	if err != nil {
		return TurnView{}, err
	}

	res, err := s.CollectTimeout(ctx, timeoutOr(s, timeout))
	if err != nil {
		return TurnView{}, err
	}
	return renderTurn(s, res), nil
}

// End removes a session and terminates its program
func (d *Dialogues) End(sessionID string) error {
	return d.registry.Remove(sessionID)
}

// Sessions lists the registered sessions
func (d *Dialogues) Sessions() []SessionView {
	list := d.registry.Sessions()
	views := make([]SessionView, 0, len(list))
	for _, s := range list {
		views = append(views, renderSession(s))
	}
	return views
}

// Programs lists the programs that can be started
func (d *Dialogues) Programs() []programs.Info {
	return d.catalog.List()
}

// timeoutOr returns the request's own driver deadline, or the session
// default when the request set none
func timeoutOr(s *session.Session, timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return s.DialogueTimeout()
}
