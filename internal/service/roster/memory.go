package roster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
)

type record struct {
	identity chat.Identity
	boundSeq uint64
}

func (r *record) snapshot() chat.Identity {
	identity := r.identity
	if identity.ConnectionRef != nil {
		conn := *identity.ConnectionRef
		identity.ConnectionRef = &conn
	}
	return identity
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	maxUsername int
	users       map[string]*record
	byName      map[string]string
	byConn      map[string]string
	bindSeq     uint64
}

// NewMemoryStore returns an empty store. maxUsername <= 0 selects the
// default username length limit.
func NewMemoryStore(maxUsername int) *MemoryStore {
	return &MemoryStore{
		maxUsername: maxUsername,
		users:       make(map[string]*record),
		byName:      make(map[string]string),
		byConn:      make(map[string]string),
	}
}

// ResolveOrCreate implements Store.
func (s *MemoryStore) ResolveOrCreate(_ context.Context, username string) (chat.Identity, error) {
	name, err := chat.NormalizeUsername(username, s.maxUsername)
	if err != nil {
		return chat.Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[name]; ok {
		return s.users[id].snapshot(), nil
	}

	rec := &record{identity: chat.Identity{
		ID:       uuid.NewString(),
		Username: name,
		JoinedAt: time.Now().UTC(),
	}}
	s.users[rec.identity.ID] = rec
	s.byName[name] = rec.identity.ID
	return rec.snapshot(), nil
}

// Bind implements Store.
func (s *MemoryStore) Bind(_ context.Context, userID, conn string, alive Liveness) (chat.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return chat.Identity{}, chat.ErrUserNotFound
	}

	if rec.identity.Online() {
		current := *rec.identity.ConnectionRef
		if current == conn {
			return rec.snapshot(), nil
		}
		if alive.IsLive(current) {
			return chat.Identity{}, chat.ErrUsernameTaken
		}
		delete(s.byConn, current)
	}

	// A connection is bound to at most one identity.
	if otherID, ok := s.byConn[conn]; ok && otherID != userID {
		s.users[otherID].identity.ConnectionRef = nil
	}

	s.bindSeq++
	rec.boundSeq = s.bindSeq
	ref := conn
	rec.identity.ConnectionRef = &ref
	s.byConn[conn] = userID
	return rec.snapshot(), nil
}

// Unbind implements Store.
func (s *MemoryStore) Unbind(_ context.Context, conn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byConn[conn]
	if !ok {
		return nil
	}
	delete(s.byConn, conn)
	s.users[id].identity.ConnectionRef = nil
	return nil
}

// ActiveRoster implements Store.
func (s *MemoryStore) ActiveRoster(_ context.Context) ([]chat.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*record, 0, len(s.byConn))
	for _, id := range s.byConn {
		active = append(active, s.users[id])
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].boundSeq < active[j].boundSeq
	})

	out := make([]chat.Identity, len(active))
	for i, rec := range active {
		out[i] = rec.snapshot()
	}
	return out, nil
}

// FindByConnection implements Store.
func (s *MemoryStore) FindByConnection(_ context.Context, conn string) (chat.Identity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byConn[conn]
	if !ok {
		return chat.Identity{}, false, nil
	}
	return s.users[id].snapshot(), true, nil
}

// Count returns the number of identities ever registered.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
