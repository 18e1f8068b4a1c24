package gateway

import (
	"errors"
	"net/http"

	"github.com/harun/parley/pkg/dialogue"
	"github.com/harun/parley/pkg/programs"
	"github.com/harun/parley/pkg/session"
)

// StatusClientClosedRequest is reported when the caller gave up waiting
const StatusClientClosedRequest = 499

// toRPCError maps a handler error onto a JSON-RPC error
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	code := InternalError
	switch {
	case errors.Is(err, programs.ErrInvalidInput), errors.Is(err, session.ErrInvalidSession):
		code = InvalidParams
	case errors.Is(err, programs.ErrVersionMismatch):
		code = VersionMismatch
	case errors.Is(err, programs.ErrUnknownProgram):
		code = ProgramNotFound
	case dialogue.IsNotFound(err):
		code = SessionNotFound
	case dialogue.IsState(err):
		code = SessionConflict
	case dialogue.IsTimeout(err):
		code = DialogueTimeout
	case dialogue.IsCancelled(err):
		code = RequestCancelled
	}

	out := &RPCError{Code: code, Message: err.Error()}
	if kind := dialogue.KindOf(err); kind != 0 {
		out.Data = map[string]interface{}{"kind": kind.String()}
	}
	return out
}

// httpStatus maps an RPC error code onto the status used by the REST routes
func httpStatus(code int) int {
	switch code {
	case ParseError, InvalidRequest, InvalidParams:
		return http.StatusBadRequest
	case AuthenticationRequired:
		return http.StatusUnauthorized
	case MethodNotFound, SessionNotFound, ProgramNotFound:
		return http.StatusNotFound
	case SessionConflict, VersionMismatch:
		return http.StatusConflict
	case DialogueTimeout:
		return http.StatusGatewayTimeout
	case RequestCancelled:
		return StatusClientClosedRequest
	case RateLimitExceeded, TooManyConcurrent:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
