package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
)

// Log is the append-only record of room messages.
type Log interface {
	Append(ctx context.Context, content, username, authorID string) (chat.Message, error)
	// Recent returns up to n of the newest messages, oldest first. n <= 0
	// selects chat.DefaultRecentLimit.
	Recent(ctx context.Context, n int) ([]chat.Message, error)
	Clear(ctx context.Context) error
}

// Options tunes a Service.
type Options struct {
	// MaxMessageLength bounds content in runes; 0 selects the default.
	MaxMessageLength int
	// MaxHistory caps retained messages, dropping the oldest; 0 keeps all.
	// This is the only removal besides Clear and is off unless configured.
	MaxHistory int
}

// Service keeps the room's message log in memory.
type Service struct {
	mu       sync.RWMutex
	opts     Options
	messages []chat.Message
	seq      int64
	last     time.Time
	now      func() time.Time
}

// NewService returns an empty in-memory log.
func NewService(opts Options) *Service {
	return &Service{
		opts:     opts,
		messages: make([]chat.Message, 0, 64),
		now:      time.Now,
	}
}

// Append validates content and records a new message.
func (s *Service) Append(_ context.Context, content, username, authorID string) (chat.Message, error) {
	text, err := chat.NormalizeContent(content, s.opts.MaxMessageLength)
	if err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts
	s.seq++

	message := chat.Message{
		ID:        uuid.NewString(),
		Content:   text,
		Username:  username,
		AuthorID:  authorID,
		Timestamp: ts,
		Seq:       s.seq,
	}
	s.messages = append(s.messages, message)

	if limit := s.opts.MaxHistory; limit > 0 && len(s.messages) > limit {
		s.messages = s.messages[len(s.messages)-limit:]
	}

	return message, nil
}

// Recent returns the newest n messages in chronological order.
func (s *Service) Recent(_ context.Context, n int) ([]chat.Message, error) {
	if n <= 0 {
		n = chat.DefaultRecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.messages) - n
	if start < 0 {
		start = 0
	}

	copied := make([]chat.Message, len(s.messages)-start)
	copy(copied, s.messages[start:])
	return copied, nil
}

// Clear drops every message.
func (s *Service) Clear(_ context.Context) error {
	s.mu.Lock()
	s.messages = make([]chat.Message, 0, 64)
	s.mu.Unlock()
	return nil
}

// Len returns the number of retained messages.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
