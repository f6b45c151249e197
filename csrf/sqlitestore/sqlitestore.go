// Package sqlitestore keeps CSRF token tables in a SQLite database, for
// single-node deployments without a Valkey server.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JeanGrijp/go-xsrf/csrf"
)

// Store implements csrf.Storage on a SQLite table.
type Store struct {
	db *sql.DB

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Open creates a new database connection and initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, done: make(chan struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS csrf_storage (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_csrf_storage_updated ON csrf_storage(updated_at);
	`)
	return err
}

// Close stops the purger, if any, and closes the underlying database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return s.db.Close()
}

// StartPurger runs Purge every interval, dropping tables idle for longer than
// maxAge, until Close.
func (s *Store) StartPurger(interval, maxAge time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				n, err := s.Purge(context.Background(), time.Now().Add(-maxAge))
				if err != nil {
					slog.Warn("csrf sqlite purge failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Debug("csrf sqlite purged idle tables", "deleted", n)
				}
			}
		}
	}()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM csrf_storage WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, csrf.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO csrf_storage (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM csrf_storage WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite has: %w", err)
	}
	return n > 0, nil
}

// Purge deletes tables not written since before. Sessions that go idle
// leave their rows behind otherwise; StartPurger runs this periodically.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM csrf_storage WHERE updated_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}
