// Package store provides the embedded SQLite persistence layer for the
// board.
//
// The store is a single-file database opened in WAL mode so concurrent
// readers proceed alongside the single writer. Every tool surface
// operation runs inside one transaction (WithTx) so its data writes and
// its event row commit atomically. The event log lives in the same
// database with two independent consumption flags, one per consumer
// class (broadcaster, trigger processor).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database handle.
//
// SQLite supports one writer at a time; the connection pool is pinned to
// a single connection and a 5 second busy timeout absorbs short lock
// contention from other processes (the MCP subprocess opens the same
// file).
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// Open opens (creating if necessary) the database at path, applies the
// required pragmas, and runs migrations. The parent directory is created
// when missing.
//
// Pragmas:
//   - journal_mode=WAL: readers do not block the writer.
//   - foreign_keys=ON: referential integrity is enforced by the engine.
//   - busy_timeout=5000: wait up to 5 seconds for locks.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithTx runs fn inside a single transaction. The transaction commits
// when fn returns nil and rolls back otherwise. This is the unit of
// atomicity for tool surface operations: all data writes plus the event
// row(s) of one operation share one WithTx call.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{q: tx, ctx: ctx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Tx is the handle passed to WithTx callbacks. All read and write helpers
// in this package are available on it.
type Tx struct {
	q   querier
	ctx context.Context
}

// Reader returns a snapshot-consistent read handle outside any
// transaction (WAL readers see a stable snapshot per statement).
func (s *Store) Reader() *Tx {
	return &Tx{q: s.db, ctx: context.Background()}
}

// ReaderCtx is Reader with an explicit context for cancellation.
func (s *Store) ReaderCtx(ctx context.Context) *Tx {
	return &Tx{q: s.db, ctx: ctx}
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection. Double-close is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so the row helpers
// serve transactional and snapshot reads alike.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
