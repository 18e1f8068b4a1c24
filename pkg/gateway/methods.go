package gateway

import (
	"context"
	"fmt"
	"time"
)

// registerDialogueMethods wires the dialogue service into the RPC router
func (s *Server) registerDialogueMethods() {
	methods := map[string]RequestHandler{
		MethodStart: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			program, err := stringParam(params, "program", true)
			if err != nil {
				return nil, err
			}
			sessionID, err := stringParam(params, "session_id", false)
			if err != nil {
				return nil, err
			}
			version, err := stringParam(params, "version", false)
			if err != nil {
				return nil, err
			}
			timeout, err := timeoutParam(params)
			if err != nil {
				return nil, err
			}
			return s.dialogues.Start(ctx, StartRequest{
				Program:   program,
				Version:   version,
				Input:     params["input"],
				SessionID: sessionID,
				Timeout:   timeout,
			})
		},
		MethodExchange: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			sessionID, err := stringParam(params, "session_id", true)
			if err != nil {
				return nil, err
			}
			timeout, err := timeoutParam(params)
			if err != nil {
				return nil, err
			}
			return s.dialogues.Exchange(ctx, sessionID, params["input"], timeout)
		},
		MethodCollect: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			sessionID, err := stringParam(params, "session_id", true)
			if err != nil {
				return nil, err
			}
			timeout, err := timeoutParam(params)
			if err != nil {
				return nil, err
			}
			return s.dialogues.Collect(ctx, sessionID, timeout)
		},
		MethodEnd: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			sessionID, err := stringParam(params, "session_id", true)
			if err != nil {
				return nil, err
			}
			if err := s.dialogues.End(sessionID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"session_id": sessionID, "ended": true}, nil
		},
		MethodSessions: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"sessions": s.dialogues.Sessions()}, nil
		},
		MethodPrograms: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"programs": s.dialogues.Programs()}, nil
		},
	}

	for name, handler := range methods {
		if err := s.router.RegisterMethod(name, handler); err != nil {
			s.logger.Error().Err(err).Str("method", name).Msg("Failed to register RPC method")
		}
	}
}

func stringParam(params map[string]interface{}, key string, required bool) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		if required {
			return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("%s is required", key)}
		}
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("%s must be a string", key)}
	}
	if required && value == "" {
		return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("%s is required", key)}
	}
	return value, nil
}

// timeoutParam reads the optional per-call driver deadline "timeout_ms"
func timeoutParam(params map[string]interface{}) (time.Duration, error) {
	raw, ok := params["timeout_ms"]
	if !ok || raw == nil {
		return 0, nil
	}
	ms, ok := raw.(float64)
	if !ok || ms < 0 {
		return 0, &RPCError{Code: InvalidParams, Message: "timeout_ms must be a non-negative number"}
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
