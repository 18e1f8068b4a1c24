package dialogue

import (
	"errors"
	"fmt"
)

// Kind classifies dialogue errors
type Kind int

const (
	// KindTimeout means a deadline elapsed while waiting
	KindTimeout Kind = iota + 1
	// KindState means a call was made in an invalid channel or session state
	KindState
	// KindNotFound means a session identifier is unknown
	KindNotFound
	// KindProgramFailure means the conversation program failed
	KindProgramFailure
	// KindCancelled means the waiting driver call was cancelled
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	case KindProgramFailure:
		return "program_failure"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Side says which party of the channel observed an error
type Side string

const (
	SideDriver  Side = "driver"
	SideProgram Side = "program"
)

// Sentinel causes, matched with errors.Is
var (
	ErrNotStarted       = errors.New("dialogue not started")
	ErrAlreadyStarted   = errors.New("dialogue already started")
	ErrTerminated       = errors.New("dialogue terminated")
	ErrExchangeInFlight = errors.New("exchange already in flight")
	ErrNotAwaitingInput = errors.New("dialogue is not awaiting input")
	ErrNothingPending   = errors.New("no pending turn to collect")
	ErrAlternation      = errors.New("publish and await must alternate")
	ErrDeadline         = errors.New("deadline exceeded")
	ErrPanic            = errors.New("program panicked")
)

// Error is the error type returned by channel and registry operations
type Error struct {
	Kind Kind
	Op   string
	Side Side
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "dialogue: " + e.Kind.String()
	if e.Side != "" {
		msg += " (" + string(e.Side) + ")"
	}
	if e.Op != "" {
		msg += " in " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, op string, side Side, err error) *Error {
	return &Error{Kind: kind, Op: op, Side: side, Err: err}
}

func stateError(op string, err error) *Error {
	return newError(KindState, op, "", err)
}

// NotFound builds a KindNotFound error for an unknown session id
func NotFound(op, id string) error {
	return newError(KindNotFound, op, "", fmt.Errorf("session %q not found", id))
}

// ProgramFailure wraps a failure raised by a conversation program
func ProgramFailure(cause error) error {
	return newError(KindProgramFailure, "run", SideProgram, cause)
}

// KindOf returns the Kind of the first *Error in err's chain, or 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// SideOf returns the Side of the first *Error in err's chain
func SideOf(err error) Side {
	var e *Error
	if errors.As(err, &e) {
		return e.Side
	}
	return ""
}

// IsTimeout reports whether err is a deadline expiry on either side
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsState reports whether err is a call made in the wrong channel state
func IsState(err error) bool { return KindOf(err) == KindState }

// IsNotFound reports whether err names an unknown session
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsCancelled reports whether err came from a cancelled context
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }

// IsProgramFailure reports whether err is a failure raised by a program
func IsProgramFailure(err error) bool { return KindOf(err) == KindProgramFailure }
