package chat

import "time"

// Identity is a registered chat participant, independent of any connection.
type Identity struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	ConnectionRef *string   `json:"connectionRef"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// Online reports whether the identity is bound to a connection.
func (i Identity) Online() bool {
	return i.ConnectionRef != nil && *i.ConnectionRef != ""
}

// BoundTo reports whether the identity is bound to conn.
func (i Identity) BoundTo(conn string) bool {
	return i.Online() && *i.ConnectionRef == conn
}
