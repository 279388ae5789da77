//go:build e2e

package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	msql "timetagger-sensors/internal/adapter/mysql"
	"timetagger-sensors/internal/adapter/timetagger"
	"timetagger-sensors/internal/configflow"
	"timetagger-sensors/internal/coordinator"
	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/hub"
	"timetagger-sensors/internal/ports"
	"timetagger-sensors/internal/sensor"
	"timetagger-sensors/internal/usecase"
)

// 2022-01-05 is a Wednesday; the fake serves 8h of work on that day.
var fixedNow = time.Date(2022, 1, 5, 18, 0, 0, 0, time.UTC)

func startMySQL(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      "testdb",
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_USER":          "test",
			"MYSQL_PASSWORD":      "pass",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
	}
	mysqlC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}
	t.Cleanup(func() { _ = mysqlC.Terminate(context.Background()) })

	host, err := mysqlC.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := mysqlC.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true", "test", "pass", host, port.Port(), "testdb")
}

func newHub(log *slog.Logger, store ports.EntryStore) (*hub.Hub, *usecase.StateRegistry) {
	registry := usecase.NewStateRegistry()
	uc := &usecase.PublishUseCase{Log: log, Sinks: []ports.StateSink{registry}}
	newClient := func(c domain.ConnectionConfig) ports.RecordsClient {
		return timetagger.NewClient(c.APIURL, c.Token, log)
	}
	h := hub.New(log, store, newClient, coordinator.Options{
		Interval: time.Hour,
		Now:      func() time.Time { return fixedNow },
	}, sensor.NewPlatform(log, uc))
	return h, registry
}

func TestEntryLifecycleWithMySQL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()
	dsn := startMySQL(t, ctx)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authtoken") != "e2e-token" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"records":[{"key":"a","t1":1641369600,"t2":1641398400,"ds":"#work"}]}`)
	}))
	defer upstream.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	store, err := msql.NewClient(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("mysql client: %v", err)
	}

	flows := configflow.NewManager(logger)
	apiURL, token := upstream.URL, "e2e-token"
	res := flows.Init(nil, &configflow.Input{APIURL: &apiURL, Token: &token})
	if res.Type != configflow.ResultCreateEntry {
		t.Fatalf("flow result = %+v", res)
	}
	entry := configflow.NewEntry(res, domain.SourceUser, time.Now())

	h, registry := newHub(logger, store)
	if err := h.AddEntry(ctx, entry); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	states := registry.States(entry.EntryID)
	if len(states) != 5 {
		t.Fatalf("states = %d, want 5", len(states))
	}
	if states[0].Value != 8 || !states[0].Available {
		t.Errorf("work_today = %+v, want 8h available", states[0])
	}
	h.Stop(ctx)
	_ = store.Close()

	// Reopen: migrations are idempotent and the entry survives.
	store, err = msql.NewClient(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h, registry = newHub(logger, store)
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop(ctx)
	entries, err := h.Entries(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Entries = %v, %v", entries, err)
	}
	got := entries[0]
	if got.State != hub.StateLoaded || got.Entry.Data != entry.Data || got.Entry.Source != domain.SourceUser {
		t.Errorf("entry after restart = %+v", got)
	}
	if len(registry.States("")) != 5 {
		t.Errorf("states after restart = %d", len(registry.States("")))
	}

	if err := h.RemoveEntry(ctx, entry.EntryID); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM config_entries").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 rows after remove, got %d", count)
	}
	var migrations int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&migrations); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if migrations != 1 {
		t.Errorf("schema_migrations rows = %d, want 1", migrations)
	}
}
