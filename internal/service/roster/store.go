package roster

import (
	"context"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
)

// Store keeps chat identities and the connection each one is bound to.
type Store interface {
	// ResolveOrCreate returns the identity registered under username,
	// creating it when none exists.
	ResolveOrCreate(ctx context.Context, username string) (chat.Identity, error)
	// Bind attaches conn to the identity. It fails with chat.ErrUsernameTaken
	// when the identity is held by another connection that alive reports live.
	Bind(ctx context.Context, userID, conn string, alive Liveness) (chat.Identity, error)
	// Unbind detaches whichever identity holds conn.
	Unbind(ctx context.Context, conn string) error
	// ActiveRoster lists bound identities in the order they were bound.
	ActiveRoster(ctx context.Context) ([]chat.Identity, error)
	FindByConnection(ctx context.Context, conn string) (chat.Identity, bool, error)
}

// Liveness reports whether a connection handle still belongs to an open
// transport session. A nil Liveness treats every connection as live.
type Liveness func(conn string) bool

// IsLive calls l, defaulting to true when l is nil.
func (l Liveness) IsLive(conn string) bool {
	if l == nil {
		return true
	}
	return l(conn)
}
