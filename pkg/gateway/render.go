package gateway

import (
	"time"

	"github.com/harun/parley/pkg/dialogue"
	"github.com/harun/parley/pkg/session"
	"github.com/harun/parley/pkg/turn"
)

// TurnView is the wire form of one delivered turn
type TurnView struct {
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
	Value     interface{} `json:"value,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Terminal  bool        `json:"terminal"`
	Turn      int         `json:"turn"`
}

// SessionView describes a registered session
type SessionView struct {
	SessionID  string    `json:"session_id"`
	Program    string    `json:"program"`
	State      string    `json:"state"`
	Turns      int       `json:"turns"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

func renderTurn(s *session.Session, res turn.Result) TurnView {
	view := TurnView{
		SessionID: s.ID,
		Kind:      res.Kind().String(),
		Value:     res.Value(),
		Terminal:  res.IsTerminal(),
		Turn:      s.Channel().Turns(),
	}
	if err := res.Err(); err != nil {
		view.Error = err.Error()
		if kind := dialogue.KindOf(err); kind != 0 {
			view.ErrorKind = kind.String()
		}
	}
	return view
}

func renderSession(s *session.Session) SessionView {
	return SessionView{
		SessionID:  s.ID,
		Program:    s.Program,
		State:      s.Channel().State().String(),
		Turns:      s.Channel().Turns(),
		CreatedAt:  s.CreatedAt(),
		LastAccess: s.LastAccess(),
	}
}
