package hotp

import (
	"sync"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
)

// Status codes in the 0xA0xx user-auth-security class (spec.md §6).
const (
	StatusOK               uint16 = 0x9000
	StatusWrongCode        uint16 = 0xA0B0
	StatusTooManyTries     uint16 = 0xA066
	StatusTooManyTriesAlt  uint16 = 0xA0B1
	StatusMismatchedUserID uint16 = 0xA0B6
	StatusWrongPassword    uint16 = 0xA065
)

// State is a position in the per-session auth state machine (spec.md §4.I):
// Idle → RequestSent → ResponseReceived → {AuthOk, AuthFailed, Corrupt}.
type State int

const (
	Idle State = iota
	RequestSent
	ResponseReceived
	AuthOk
	AuthFailed
	Corrupt
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RequestSent:
		return "RequestSent"
	case ResponseReceived:
		return "ResponseReceived"
	case AuthOk:
		return "AuthOk"
	case AuthFailed:
		return "AuthFailed"
	case Corrupt:
		return "Corrupt"
	default:
		return "Unknown"
	}
}

// Session tracks one HOTP (or password) auth round trip. The caller MUST
// persist the userCtx from every terminal Receive, including AuthFailed —
// the HSM advances its failure counter inside that blob even on a wrong
// code.
type Session struct {
	mu    sync.Mutex
	state State
	op    byte
}

// NewSession creates a Session in the Idle state.
func NewSession() *Session {
	return &Session{state: Idle}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send transitions Idle → RequestSent, recording which op the caller is
// about to send so Receive knows what tag to expect back.
func (s *Session) Send(op byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return hsmerrors.InvalidArgument("hotp: Send called outside Idle state")
	}
	s.op = op
	s.state = RequestSent
	return nil
}

// Receive parses raw and transitions the session to its terminal state:
// Corrupt on any structural violation, AuthOk on StatusOK, AuthFailed on
// any other syntactically valid status. The returned AuthResponse's
// UserCtx is populated (and must be persisted) whenever err is nil, even
// in the AuthFailed case.
func (s *Session) Receive(raw []byte) (*AuthResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != RequestSent {
		return nil, hsmerrors.InvalidArgument("hotp: Receive called outside RequestSent state")
	}
	s.state = ResponseReceived

	resp, err := Parse(raw, s.op)
	if err != nil {
		s.state = Corrupt
		return nil, err
	}

	if resp.StatusCode == StatusOK {
		s.state = AuthOk
	} else {
		s.state = AuthFailed
	}
	return resp, nil
}
