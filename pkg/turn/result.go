package turn

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which variant a Result holds
type Kind int

const (
	// KindOutput means the program wants another input
	KindOutput Kind = iota + 1
	// KindLast means the program completed normally
	KindLast
	// KindError means the program failed
	KindError
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindOutput:
		return "output"
	case KindLast:
		return "last"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the value handed to the driver on each exchange.
// The zero Result is invalid.
type Result struct {
	kind  Kind
	value any
	cause error
}

// Output builds a non-terminal result carrying value
func Output(value any) Result {
	return Result{kind: KindOutput, value: value}
}

// Last builds a terminal result carrying the program's final value
func Last(value any) Result {
	return Result{kind: KindLast, value: value}
}

// Error builds a terminal result carrying the failure cause
func Error(cause error) Result {
	if cause == nil {
		cause = fmt.Errorf("unknown failure")
	}
	return Result{kind: KindError, cause: cause}
}

// Kind returns the variant tag
func (r Result) Kind() Kind {
	return r.kind
}

// Value returns the payload of Output and Last results, nil for Error
func (r Result) Value() any {
	return r.value
}

// Err returns the cause of an Error result, nil otherwise
func (r Result) Err() error {
	return r.cause
}

// IsTerminal reports whether no exchange can follow this result
func (r Result) IsTerminal() bool {
	return r.kind == KindLast || r.kind == KindError
}

// IsValid reports whether r was built by one of the constructors
func (r Result) IsValid() bool {
	return r.kind >= KindOutput && r.kind <= KindError
}

func (r Result) String() string {
	switch r.kind {
	case KindError:
		return fmt.Sprintf("error(%v)", r.cause)
	case KindOutput, KindLast:
		return fmt.Sprintf("%s(%v)", r.kind, r.value)
	default:
		return "invalid"
	}
}

type wireResult struct {
	Kind  string `json:"kind"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// MarshalJSON encodes the result as {"kind": ..., "value": ..., "error": ...}
func (r Result) MarshalJSON() ([]byte, error) {
	w := wireResult{Kind: r.kind.String(), Value: r.value}
	if r.cause != nil {
		w.Error = r.cause.Error()
	}
	return json.Marshal(w)
}
