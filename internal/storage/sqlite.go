// Package storage is the SQLite implementation of ledger.Store.
//
// Amounts are persisted as integer cents so SUM() stays exact, dates as
// YYYY-MM-DD text so they order lexically.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"

	_ "modernc.org/sqlite"
)

const busyTimeout = 5 * time.Second

// SQLiteStore wraps a database handle. Queries outside InTx run directly
// on the pool; InTx opens an IMMEDIATE transaction so writers serialize.
type SQLiteStore struct {
	*queries
	db *sql.DB
}

var _ ledger.Store = (*SQLiteStore)(nil)

// DSN builds the connection string for dbPath with foreign keys on and
// write-locking transactions.
func DSN(dbPath string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return dbPath + "?" + q.Encode()
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	if err := RunMigrations(dsn); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite ledger store ready", "db_path", dbPath)

	return &SQLiteStore{queries: &queries{db: db}, db: db}, nil
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(q ledger.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Storage("begin transaction", err)
	}

	if err := fn(&queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return core.Storage("commit transaction", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return core.Storage("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
