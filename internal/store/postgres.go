package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresStore connects a pgx pool to databaseURL, verifies it and
// applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	s, err := newSQLStore(ctx, db, dialectPostgres)
	if err != nil {
		db.Close()
		pool.Close()
		return nil, err
	}
	s.closer = pool.Close
	return s, nil
}
