package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/migrate"
)

// ErrNotFound is returned when removing an unknown entry.
var ErrNotFound = errors.New("sqlite: entry not found")

// Store implements ports.EntryStore on an SQLite database.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
func New(ctx context.Context, dbPath string, log *slog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	if err := migrate.Apply(ctx, db, migrate.SQLite, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// NewMemory creates an in-memory store for testing.
func NewMemory(ctx context.Context, log *slog.Logger) (*Store, error) {
	return New(ctx, ":memory:", log)
}

// AddEntry inserts a new config entry.
func (s *Store) AddEntry(ctx context.Context, e domain.ConfigEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO config_entries
  (entry_id, domain, title, version, source, api_url, token, work_tags, daily_target, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.Domain, e.Title, e.Version, e.Source,
		e.Data.APIURL, e.Data.Token, e.Data.WorkTags, e.Data.DailyTarget,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	s.log.Debug("sqlite store added entry", slog.String("entry_id", e.EntryID))
	return nil
}

// ListEntries returns all entries ordered by creation time.
func (s *Store) ListEntries(ctx context.Context) ([]domain.ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT entry_id, domain, title, version, source, api_url, token, work_tags, daily_target, created_at
FROM config_entries
ORDER BY created_at, entry_id`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []domain.ConfigEntry
	for rows.Next() {
		var (
			e       domain.ConfigEntry
			created string
		)
		if err := rows.Scan(&e.EntryID, &e.Domain, &e.Title, &e.Version, &e.Source,
			&e.Data.APIURL, &e.Data.Token, &e.Data.WorkTags, &e.Data.DailyTarget, &created); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", e.EntryID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoveEntry deletes an entry.
func (s *Store) RemoveEntry(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM config_entries WHERE entry_id = ?", entryID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, entryID)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
