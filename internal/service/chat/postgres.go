package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
)

// PostgresLog implements Log on the messages table.
type PostgresLog struct {
	// mu serializes appends so the clamped timestamp stays monotonic.
	mu               sync.Mutex
	pool             *pgxpool.Pool
	maxMessageLength int
}

// NewPostgresLog returns a log backed by pool.
func NewPostgresLog(pool *pgxpool.Pool, maxMessageLength int) *PostgresLog {
	return &PostgresLog{pool: pool, maxMessageLength: maxMessageLength}
}

// Append implements Log.
func (l *PostgresLog) Append(ctx context.Context, content, username, authorID string) (chat.Message, error) {
	text, err := chat.NormalizeContent(content, l.maxMessageLength)
	if err != nil {
		return chat.Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	message := chat.Message{
		ID:       uuid.NewString(),
		Content:  text,
		Username: username,
		AuthorID: authorID,
	}

	err = l.pool.QueryRow(ctx, `
		INSERT INTO messages (id, content, username, author_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''),
			GREATEST(clock_timestamp(), COALESCE((SELECT MAX(created_at) FROM messages), '-infinity')))
		RETURNING seq, created_at
	`, message.ID, message.Content, message.Username, message.AuthorID).Scan(&message.Seq, &message.Timestamp)
	if err != nil {
		return chat.Message{}, internalErr("insert message", err)
	}
	message.Timestamp = message.Timestamp.UTC()
	return message, nil
}

// Recent implements Log.
func (l *PostgresLog) Recent(ctx context.Context, n int) ([]chat.Message, error) {
	if n <= 0 {
		n = chat.DefaultRecentLimit
	}

	// Newest n by sequence, then reversed for chronological order.
	rows, err := l.pool.Query(ctx, `
		SELECT seq, id, content, username, COALESCE(author_id, ''), created_at
		FROM messages
		ORDER BY seq DESC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, internalErr("query messages", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.Seq, &m.ID, &m.Content, &m.Username, &m.AuthorID, &m.Timestamp); err != nil {
			return nil, internalErr("scan message", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("read messages", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Clear implements Log.
func (l *PostgresLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.pool.Exec(ctx, `DELETE FROM messages`); err != nil {
		return internalErr("clear messages", err)
	}
	return nil
}

func internalErr(op string, err error) error {
	return fmt.Errorf("%w: message log %s: %w", chat.ErrInternal, op, err)
}
