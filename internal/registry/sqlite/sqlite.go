// Package sqlite implements the registry store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"caliban/internal/calerr"
)

// Store provides the SQLite-backed implementation of registry.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the registry file at path and applies any pending
// migrations. The DSN requests immediate transactions so a second mutating
// process waits on SQLite's file lock instead of interleaving writes.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &calerr.RegistryError{Op: "open", Cause: err}
	}

	// A single connection keeps transaction semantics simple; the registry is
	// a sequential control-plane store, not a server pool.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, &calerr.RegistryError{Op: "migrate", Cause: err}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &calerr.RegistryError{Op: op, Cause: err}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if _, ok := err.(*calerr.RegistryError); ok {
			return err
		}
		return &calerr.RegistryError{Op: op, Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &calerr.RegistryError{Op: op, Cause: err}
	}
	return nil
}
