package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/migrate"
)

// ErrNotFound is returned when removing an unknown entry.
var ErrNotFound = errors.New("mysql: entry not found")

// Client implements ports.EntryStore on a MySQL table.
type Client struct {
	db  *sql.DB
	log *slog.Logger
}

// NewClient opens a MySQL connection using the provided DSN and applies migrations.
// Example DSN: user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
func NewClient(ctx context.Context, dsn string, log *slog.Logger) (*Client, error) {
	if dsn == "" {
		return nil, errors.New("mysql: DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	// Entries are read on startup and on API calls only.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(c); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate.Apply(ctx, db, migrate.MySQL, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: migrate: %w", err)
	}
	return &Client{db: db, log: log}, nil
}

// AddEntry inserts a new config entry.
func (c *Client) AddEntry(ctx context.Context, e domain.ConfigEntry) error {
	const q = `
INSERT INTO config_entries
  (entry_id, domain, title, version, source, api_url, token, work_tags, daily_target, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	if _, err := c.db.ExecContext(ctx, q,
		e.EntryID,
		e.Domain,
		e.Title,
		e.Version,
		e.Source,
		e.Data.APIURL,
		e.Data.Token,
		e.Data.WorkTags,
		e.Data.DailyTarget,
		e.CreatedAt.UTC(),
	); err != nil {
		return err
	}
	c.log.Info("mysql store added entry", slog.String("entry_id", e.EntryID))
	return nil
}

// ListEntries returns all entries ordered by creation time.
func (c *Client) ListEntries(ctx context.Context) ([]domain.ConfigEntry, error) {
	const q = `
SELECT entry_id, domain, title, version, source, api_url, token, work_tags, daily_target, created_at
FROM config_entries
ORDER BY created_at, entry_id;
`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConfigEntry
	for rows.Next() {
		var e domain.ConfigEntry
		if err := rows.Scan(
			&e.EntryID,
			&e.Domain,
			&e.Title,
			&e.Version,
			&e.Source,
			&e.Data.APIURL,
			&e.Data.Token,
			&e.Data.WorkTags,
			&e.Data.DailyTarget,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoveEntry deletes an entry.
func (c *Client) RemoveEntry(ctx context.Context, entryID string) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM config_entries WHERE entry_id = ?", entryID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, entryID)
	}
	c.log.Info("mysql store removed entry", slog.String("entry_id", entryID))
	return nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }
