package roster

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
)

const identityColumns = `id, username, connection_ref, joined_at`

// PostgresStore implements Store on the users table.
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxUsername int
}

// NewPostgresStore clears bindings left behind by a previous process, since
// none of those connections can still be live.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, maxUsername int) (*PostgresStore, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE users SET connection_ref = NULL, bound_at = NULL
		WHERE connection_ref IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("reset stale bindings: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Printf("[roster] cleared %d stale bindings", n)
	}
	return &PostgresStore{pool: pool, maxUsername: maxUsername}, nil
}

// ResolveOrCreate implements Store.
func (s *PostgresStore) ResolveOrCreate(ctx context.Context, username string) (chat.Identity, error) {
	name, err := chat.NormalizeUsername(username, s.maxUsername)
	if err != nil {
		return chat.Identity{}, err
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, joined_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (username) DO NOTHING
	`, uuid.NewString(), name); err != nil {
		return chat.Identity{}, internalErr("insert user", err)
	}

	identity, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM users WHERE username = $1`, name))
	if err != nil {
		return chat.Identity{}, internalErr("load user", err)
	}
	return identity, nil
}

// Bind implements Store.
func (s *PostgresStore) Bind(ctx context.Context, userID, conn string, alive Liveness) (chat.Identity, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return chat.Identity{}, internalErr("begin bind", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanIdentity(tx.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Identity{}, chat.ErrUserNotFound
	}
	if err != nil {
		return chat.Identity{}, internalErr("lock user", err)
	}

	if current.Online() {
		if current.BoundTo(conn) {
			return current, nil
		}
		if alive.IsLive(*current.ConnectionRef) {
			return chat.Identity{}, chat.ErrUsernameTaken
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users SET connection_ref = NULL, bound_at = NULL
		WHERE connection_ref = $1 AND id <> $2
	`, conn, userID); err != nil {
		return chat.Identity{}, internalErr("release connection", err)
	}

	bound, err := scanIdentity(tx.QueryRow(ctx, `
		UPDATE users SET connection_ref = $2, bound_at = clock_timestamp()
		WHERE id = $1
		RETURNING `+identityColumns, userID, conn))
	if err != nil {
		return chat.Identity{}, internalErr("bind user", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return chat.Identity{}, internalErr("commit bind", err)
	}
	return bound, nil
}

// Unbind implements Store.
func (s *PostgresStore) Unbind(ctx context.Context, conn string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE users SET connection_ref = NULL, bound_at = NULL
		WHERE connection_ref = $1
	`, conn); err != nil {
		return internalErr("unbind", err)
	}
	return nil
}

// ActiveRoster implements Store.
func (s *PostgresStore) ActiveRoster(ctx context.Context) ([]chat.Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+identityColumns+` FROM users
		WHERE connection_ref IS NOT NULL
		ORDER BY bound_at, id
	`)
	if err != nil {
		return nil, internalErr("query roster", err)
	}
	defer rows.Close()

	users := make([]chat.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, internalErr("scan roster", err)
		}
		users = append(users, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("read roster", err)
	}
	return users, nil
}

// FindByConnection implements Store.
func (s *PostgresStore) FindByConnection(ctx context.Context, conn string) (chat.Identity, bool, error) {
	identity, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM users WHERE connection_ref = $1`, conn))
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Identity{}, false, nil
	}
	if err != nil {
		return chat.Identity{}, false, internalErr("find by connection", err)
	}
	return identity, true, nil
}

func scanIdentity(row pgx.Row) (chat.Identity, error) {
	var identity chat.Identity
	if err := row.Scan(&identity.ID, &identity.Username, &identity.ConnectionRef, &identity.JoinedAt); err != nil {
		return chat.Identity{}, err
	}
	identity.JoinedAt = identity.JoinedAt.UTC()
	return identity, nil
}

func internalErr(op string, err error) error {
	return fmt.Errorf("%w: roster %s: %w", chat.ErrInternal, op, err)
}
