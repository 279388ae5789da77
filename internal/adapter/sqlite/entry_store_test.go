package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"timetagger-sensors/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEntry(id string, created time.Time) domain.ConfigEntry {
	return domain.ConfigEntry{
		EntryID: id,
		Domain:  domain.Domain,
		Title:   "TimeTagger",
		Version: 1,
		Source:  domain.SourceUser,
		Data: domain.ConnectionConfig{
			APIURL:      "https://test.timetagger.com/timetagger/",
			Token:       "test_token_123",
			WorkTags:    "#work,#test",
			DailyTarget: 7.5,
		},
		CreatedAt: created,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemory(ctx, discardLogger())
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	defer s.Close()

	t0 := time.Date(2022, 1, 1, 12, 0, 0, 123456789, time.UTC)
	second := testEntry("b", t0.Add(time.Minute))
	first := testEntry("a", t0)
	if err := s.AddEntry(ctx, second); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if err := s.AddEntry(ctx, first); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if err := s.AddEntry(ctx, first); err == nil {
		t.Error("AddEntry() with duplicate id should fail")
	}

	got, err := s.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].EntryID != "a" || got[1].EntryID != "b" {
		t.Errorf("order = %s,%s; want a,b", got[0].EntryID, got[1].EntryID)
	}
	if got[0].Data != first.Data || !got[0].CreatedAt.Equal(t0) || got[0].Source != "user" || got[0].Version != 1 {
		t.Errorf("entry = %+v, want %+v", got[0], first)
	}

	if err := s.RemoveEntry(ctx, "a"); err != nil {
		t.Fatalf("RemoveEntry() error = %v", err)
	}
	if err := s.RemoveEntry(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveEntry() twice error = %v, want ErrNotFound", err)
	}
	got, _ = s.ListEntries(ctx)
	if len(got) != 1 {
		t.Errorf("len after remove = %d, want 1", len(got))
	}
}

func TestStorePersistsOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "entries.db")

	s, err := New(ctx, path, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.AddEntry(ctx, testEntry("a", time.Now())); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	s.Close()

	s, err = New(ctx, path, discardLogger())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	got, err := s.ListEntries(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListEntries() = %v, %v; want 1 entry", got, err)
	}
}
