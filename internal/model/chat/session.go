package chat

// SessionState is the lifecycle stage of one transport connection.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionSession tracks what a connection is allowed to do.
type ConnectionSession struct {
	ConnID   string
	State    SessionState
	UserID   string
	Username string
}

// Authenticated reports whether the session has completed a join.
func (s ConnectionSession) Authenticated() bool {
	return s.State == StateAuthenticated
}
