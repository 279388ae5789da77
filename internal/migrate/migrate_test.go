package migrate

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "modernc.org/sqlite"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{name: "0001_config_entries.sql", want: 1},
		{name: "0042_x.sql", want: 42},
		{name: "_missing.sql", wantErr: true},
		{name: "nounderscore.sql", wantErr: true},
		{name: "abc_def.sql", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseVersion(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseVersion(%q) expected error", tt.name)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseVersion(%q) = %d, %v; want %d", tt.name, got, err, tt.want)
		}
	}
}

func TestApplySQLiteIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for i := 0; i < 2; i++ {
		if err := Apply(ctx, db, SQLite, log); err != nil {
			t.Fatalf("Apply() run %d error = %v", i+1, err)
		}
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("schema_migrations rows = %d, want 1", n)
	}
	if _, err := db.ExecContext(ctx, "SELECT entry_id, api_url, daily_target FROM config_entries"); err != nil {
		t.Errorf("config_entries not created: %v", err)
	}
}

func TestMySQLMigrationsEmbedded(t *testing.T) {
	b, err := migrationsFS.ReadFile("sql/mysql/0001_config_entries.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(b) == 0 {
		t.Error("empty mysql migration")
	}
}
