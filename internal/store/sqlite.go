package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) a SQLite database at path in WAL mode with a
// single writer connection.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	return db, nil
}

// NewSQLiteStore opens the SQLite database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s, err := newSQLStore(ctx, db, dialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
