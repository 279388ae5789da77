package sensor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"timetagger-sensors/internal/coordinator"
	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/hub"
	"timetagger-sensors/internal/ports"
)

type recordsStub struct {
	err error
}

func (r *recordsStub) ListRecords(context.Context, time.Time, time.Time) ([]domain.Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	// 2022-01-05 08:00-16:00 UTC.
	return []domain.Record{domain.Span(1641369600, 1641398400)}, nil
}

type memorySink struct {
	mu        sync.Mutex
	published [][]ports.EntityState
	removed   []string
	removeErr error
}

func (m *memorySink) PublishStates(_ context.Context, states []ports.EntityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, states)
	return nil
}

func (m *memorySink) RemoveEntry(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, entryID)
	return nil
}

func (m *memorySink) last() []ports.EntityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[len(m.published)-1]
}

func newRuntime(t *testing.T, id string, client *recordsStub) *hub.Runtime {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := domain.ConnectionConfig{APIURL: "https://tt.example/timetagger/", Token: "t", WorkTags: "#work", DailyTarget: 8}
	coord := coordinator.New(log, client, cfg, coordinator.Options{Now: at(wednesday.Add(6 * time.Hour))})
	if err := coord.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	return &hub.Runtime{
		Entry:       domain.ConfigEntry{EntryID: id, Data: cfg},
		Coordinator: coord,
	}
}

func TestPlatformSetupPublishes(t *testing.T) {
	sink := &memorySink{}
	p := NewPlatform(slog.New(slog.NewTextHandler(io.Discard, nil)), sink)
	client := &recordsStub{}
	rt := newRuntime(t, "e1", client)

	if err := p.SetupEntry(context.Background(), rt); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	if p.Name() != "sensor" || len(p.Entities("e1")) != 5 {
		t.Errorf("Name() = %q, entities = %d", p.Name(), len(p.Entities("e1")))
	}

	states := sink.last()
	if len(states) != 5 {
		t.Fatalf("published %d states, want 5", len(states))
	}
	// 8h worked on a Wednesday: 24h target, 16h remaining.
	if states[0].Value != 8 || states[3].Value != 16 || !states[3].Available {
		t.Errorf("states = %+v", states)
	}
	if states[0].Device.Identifiers[0] != [2]string{"timetagger", "e1"} {
		t.Errorf("device = %+v", states[0].Device)
	}

	// Every coordinator update is pushed.
	client.err = errors.New("connection refused")
	_ = rt.Coordinator.Refresh(context.Background())
	if got := sink.last(); got[0].Available {
		t.Error("state after failed refresh still available")
	}
	if n := len(sink.published); n != 2 {
		t.Errorf("publications = %d, want 2", n)
	}
}

func TestPlatformUnload(t *testing.T) {
	sink := &memorySink{removeErr: errors.New("broker down")}
	p := NewPlatform(slog.New(slog.NewTextHandler(io.Discard, nil)), sink)
	rt := newRuntime(t, "e1", &recordsStub{})
	ctx := context.Background()

	if err := p.SetupEntry(ctx, rt); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	if err := p.UnloadEntry(ctx, rt); err == nil {
		t.Fatal("UnloadEntry() should fail while the sink refuses")
	}
	if len(p.Entities("e1")) != 5 {
		t.Error("entities dropped after failed unload")
	}

	sink.removeErr = nil
	if err := p.UnloadEntry(ctx, rt); err != nil {
		t.Fatalf("UnloadEntry() error = %v", err)
	}
	if len(p.Entities("e1")) != 0 || len(sink.removed) != 1 {
		t.Errorf("entities = %d, removed = %v", len(p.Entities("e1")), sink.removed)
	}

	// Detached from the coordinator.
	before := len(sink.published)
	_ = rt.Coordinator.Refresh(ctx)
	if len(sink.published) != before {
		t.Error("unloaded entry still publishes")
	}

	// Unloading an unknown entry is a no-op.
	if err := p.UnloadEntry(ctx, rt); err != nil {
		t.Errorf("second UnloadEntry() error = %v", err)
	}
}

// refreshingSink refreshes the coordinator while an entry is being removed,
// the way a poll tick or a manual refresh can land mid-unload.
type refreshingSink struct {
	*memorySink
	rt *hub.Runtime
}

func (r *refreshingSink) RemoveEntry(ctx context.Context, entryID string) error {
	_ = r.rt.Coordinator.Refresh(ctx)
	return r.memorySink.RemoveEntry(ctx, entryID)
}

func TestPlatformUnloadDuringRefresh(t *testing.T) {
	rt := newRuntime(t, "e1", &recordsStub{})
	mem := &memorySink{removeErr: errors.New("broker down")}
	p := NewPlatform(slog.New(slog.NewTextHandler(io.Discard, nil)), &refreshingSink{memorySink: mem, rt: rt})
	ctx := context.Background()

	if err := p.SetupEntry(ctx, rt); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	before := len(mem.published)

	if err := p.UnloadEntry(ctx, rt); err == nil {
		t.Fatal("UnloadEntry() should fail while the sink refuses")
	}
	if len(mem.published) != before {
		t.Errorf("publications during failed unload = %d, want 0", len(mem.published)-before)
	}

	// Still attached after the failed unload.
	_ = rt.Coordinator.Refresh(ctx)
	if len(mem.published) != before+1 {
		t.Fatalf("publications after failed unload = %d, want 1", len(mem.published)-before)
	}

	mem.mu.Lock()
	mem.removeErr = nil
	mem.mu.Unlock()
	before = len(mem.published)
	if err := p.UnloadEntry(ctx, rt); err != nil {
		t.Fatalf("UnloadEntry() error = %v", err)
	}
	if len(mem.published) != before {
		t.Errorf("entry republished after removal")
	}
	_ = rt.Coordinator.Refresh(ctx)
	if len(mem.published) != before || len(p.Entities("e1")) != 0 {
		t.Errorf("unloaded entry still attached")
	}
}

func TestPlatformStatesAt(t *testing.T) {
	p := NewPlatform(slog.New(slog.NewTextHandler(io.Discard, nil)), &memorySink{})
	rts := map[string]*hub.Runtime{
		"b": newRuntime(t, "b", &recordsStub{}),
		"a": newRuntime(t, "a", &recordsStub{}),
	}
	for _, rt := range rts {
		if err := p.SetupEntry(context.Background(), rt); err != nil {
			t.Fatal(err)
		}
	}
	lookup := func(id string) (*hub.Runtime, bool) {
		rt, ok := rts[id]
		return rt, ok
	}

	// Saturday of the same week.
	states := p.StatesAt(lookup, time.Date(2022, 1, 8, 12, 0, 0, 0, time.UTC))
	if len(states) != 10 || states[0].EntryID != "a" || states[5].EntryID != "b" {
		t.Fatalf("states = %+v", states)
	}
	if states[3].Value != 32 {
		t.Errorf("remaining_week = %v, want 40-8=32", states[3].Value)
	}
	if !states[0].UpdatedAt.Equal(time.Date(2022, 1, 8, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("UpdatedAt = %v", states[0].UpdatedAt)
	}

	delete(rts, "b")
	if states := p.StatesAt(lookup, wednesday); len(states) != 5 {
		t.Errorf("states without runtime b = %d, want 5", len(states))
	}
}
