package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxBodyBytes bounds request bodies on every route
const maxBodyBytes = 1 << 20

// restRequest is the body accepted by the REST dialogue routes
type restRequest struct {
	Input     interface{} `json:"input"`
	SessionID string      `json:"session_id,omitempty"`
	Version   string      `json:"version,omitempty"`
	TimeoutMS float64     `json:"timeout_ms,omitempty"`
}

func (s *Server) handleRESTStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeREST(w, r)
	if !ok {
		return
	}
	view, err := s.dialogues.Start(r.Context(), StartRequest{
		Program:   r.PathValue("program"),
		Version:   req.Version,
		Input:     req.Input,
		SessionID: req.SessionID,
		Timeout:   restTimeout(req.TimeoutMS, r),
	})
	s.writeREST(w, view, err)
}

func (s *Server) handleRESTExchange(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeREST(w, r)
	if !ok {
		return
	}
	view, err := s.dialogues.Exchange(r.Context(), r.PathValue("id"), req.Input, restTimeout(req.TimeoutMS, r))
	s.writeREST(w, view, err)
}

func (s *Server) handleRESTCollect(w http.ResponseWriter, r *http.Request) {
	view, err := s.dialogues.Collect(r.Context(), r.PathValue("id"), restTimeout(0, r))
	s.writeREST(w, view, err)
}

func (s *Server) handleRESTEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.dialogues.End(id); err != nil {
		s.writeREST(w, nil, err)
		return
	}
	s.writeREST(w, map[string]interface{}{"session_id": id, "ended": true}, nil)
}

func (s *Server) handleRESTSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeREST(w, map[string]interface{}{"sessions": s.dialogues.Sessions()}, nil)
}

func (s *Server) handleRESTPrograms(w http.ResponseWriter, _ *http.Request) {
	s.writeREST(w, map[string]interface{}{"programs": s.dialogues.Programs()}, nil)
}

func (s *Server) decodeREST(w http.ResponseWriter, r *http.Request) (restRequest, bool) {
	var req restRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeREST(w, nil, &RPCError{Code: InvalidRequest, Message: "failed to read request body"})
		return req, false
	}
	if len(body) == 0 {
		return req, true
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeREST(w, nil, &RPCError{Code: ParseError, Message: "invalid JSON body", Data: err.Error()})
		return req, false
	}
	return req, true
}

// restTimeout prefers the body's timeout_ms, then the ?timeout= query
// duration ("2s")
func restTimeout(ms float64, r *http.Request) time.Duration {
	if ms > 0 {
		return time.Duration(ms * float64(time.Millisecond))
	}
	if q := r.URL.Query().Get("timeout"); q != "" {
		if d, err := time.ParseDuration(q); err == nil && d > 0 {
			return d
		}
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return 0
}

func (s *Server) writeREST(w http.ResponseWriter, body interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")

	if err != nil {
		rpcErr := toRPCError(err)
		var direct *RPCError
		if !errors.As(err, &direct) && rpcErr.Code == InternalError {
			s.logger.Error().Err(err).Msg("Dialogue request failed")
		}
		w.WriteHeader(httpStatus(rpcErr.Code))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": rpcErr})
		return
	}

	w.WriteHeader(http.StatusOK)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		s.logger.Error().Err(encErr).Msg("Failed to encode response")
	}
}
