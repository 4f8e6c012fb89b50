package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the connection pool and the startup retry loop.
type PoolOptions struct {
	MaxConns      int32
	MinConns      int32
	ConnectTries  int
	RetryInterval time.Duration
}

// DefaultPoolOptions is sized for a single chat process.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:      10,
		MinConns:      1,
		ConnectTries:  10,
		RetryInterval: 2 * time.Second,
	}
}

// NewPool connects to Postgres, retrying while the server comes up.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = opts.MaxConns
	config.MinConns = opts.MinConns
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	tries := opts.ConnectTries
	if tries < 1 {
		tries = 1
	}

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= tries; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Printf("[db] connected (attempt %d)", attempt)
				return pool, nil
			}
			pool.Close()
		}

		log.Printf("[db] connect attempt %d/%d failed: %v", attempt, tries, err)
		if attempt == tries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", tries, err)
}
