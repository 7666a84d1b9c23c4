// Package sqlite implements the freight history and audit stores on an
// embedded modernc.org/sqlite database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS freight_history (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL DEFAULT '',
	listing_id          TEXT NOT NULL,
	destination         TEXT NOT NULL,
	seller_cost         REAL NOT NULL,
	customer_cost       REAL NOT NULL,
	method              TEXT NOT NULL DEFAULT '',
	reliability_percent REAL NOT NULL DEFAULT 0,
	successful_attempts INTEGER NOT NULL DEFAULT 0,
	agreeing_attempts   INTEGER NOT NULL DEFAULT 0,
	attempts            TEXT,
	calculated_at       INTEGER NOT NULL,
	is_current          INTEGER NOT NULL DEFAULT 1,
	invalidated_at      INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_freight_history_current
	ON freight_history(user_id, listing_id, destination) WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_freight_history_listing
	ON freight_history(listing_id, calculated_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT NOT NULL,
	detail     TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);
`

// Store owns the SQLite handle. Timestamps are stored as Unix nanoseconds.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path and configures WAL mode. The pool holds a
// single connection: pragmas are per connection, and SQLite admits one
// writer at a time anyway, so transactions run one after another.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// History returns the freight history store view.
func (s *Store) History() *HistoryStore {
	return &HistoryStore{db: s.db}
}

// Audit returns the audit log view.
func (s *Store) Audit() *AuditStore {
	return &AuditStore{db: s.db, now: s.now}
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		return errors.Join(err, rbErr)
	}
	return err
}
