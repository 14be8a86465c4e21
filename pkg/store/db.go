// Package store is the relational data-store layer: a thin wrapper over
// database/sql + mattn/go-sqlite3 with hand-written, parameterized SQL
// rather than an ORM.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the dependency-injected database handle shared by the bot
// worker and the review API, replacing any singleton database manager.
type Store struct {
	db *sql.DB

	// guildLocks serializes writers per guild so that a single war's row +
	// its war_player rows + aggregate updates commit as one unit even
	// against a datastore with weaker isolation than SQLite's single
	// writer.
	mu         sync.Mutex
	guildLocks map[string]*sync.Mutex
}

// Open creates (if needed) and migrates the SQLite database at dsn, with a
// connection pool sized by poolMin/poolMax (SQLite only ever uses one
// writer at a time regardless of MaxOpenConns, but the knob is honored for
// read-concurrency and for compatibility with other database/sql drivers).
func Open(dsn string, poolMin, poolMax int) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if poolMax > 0 {
		db.SetMaxOpenConns(poolMax)
	}
	if poolMin > 0 {
		db.SetMaxIdleConns(poolMin)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, guildLocks: make(map[string]*sync.Mutex)}, nil
}

// NewWithDB wraps an already-open database handle, used by tests against
// an in-memory SQLite instance.
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, guildLocks: make(map[string]*sync.Mutex)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) guildLock(guildID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.guildLocks[guildID]
	if !ok {
		l = &sync.Mutex{}
		s.guildLocks[guildID] = l
	}
	return l
}

// withGuildTx runs fn inside a database transaction while holding the
// write lock for the given key: a guild ID for war inserts/removals, or a
// sessionGuildLockKey key for bulk-session operations such as confirmation.
// Either way the transaction commits as a single unit.
func (s *Store) withGuildTx(ctx context.Context, guildID string, fn func(tx *sql.Tx) error) error {
	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// DB exposes the raw handle for callers (e.g. cron sweep jobs) that need a
// plain, non-guild-scoped statement.
func (s *Store) DB() *sql.DB { return s.db }
