package sensor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"timetagger-sensors/internal/coordinator"
	"timetagger-sensors/internal/hub"
	"timetagger-sensors/internal/ports"
)

// PlatformName is the only platform entries are forwarded to.
const PlatformName = "sensor"

type loadedEntry struct {
	entities []Entity
	publish  coordinator.Listener
	remove   func()
}

// Platform creates an entry's entities and pushes their states to a sink
// after every coordinator update.
type Platform struct {
	log  *slog.Logger
	sink ports.StateSink

	mu      sync.RWMutex
	entries map[string]loadedEntry
}

// NewPlatform builds the sensor platform publishing to sink.
func NewPlatform(log *slog.Logger, sink ports.StateSink) *Platform {
	return &Platform{log: log, sink: sink, entries: make(map[string]loadedEntry)}
}

func (p *Platform) Name() string { return PlatformName }

// SetupEntry registers the five entities of rt and publishes their initial state.
func (p *Platform) SetupEntry(ctx context.Context, rt *hub.Runtime) error {
	entryID := rt.Entry.EntryID
	coord := rt.Coordinator
	entities := NewEntities(entryID, coord, rt.Entry.Data.DailyTarget, coord.Now)

	// Holds the read lock while publishing; UnloadEntry waits for it.
	publish := func(ctx context.Context) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if _, ok := p.entries[entryID]; !ok {
			return
		}
		states := States(entryID, entities, coord.Now())
		if err := p.sink.PublishStates(ctx, states); err != nil {
			p.log.Warn("publishing sensor states failed", slog.String("entry_id", entryID), slog.String("error", err.Error()))
		}
	}
	remove := coord.AddListener(publish)

	p.mu.Lock()
	p.entries[entryID] = loadedEntry{entities: entities, publish: publish, remove: remove}
	p.mu.Unlock()

	publish(ctx)
	p.log.Info("sensor platform set up", slog.String("entry_id", entryID), slog.Int("entities", len(entities)))
	return nil
}

// UnloadEntry detaches the entities from the coordinator, then removes them
// from the sink. When the sink refuses, the entities are attached again so the
// unload can be retried.
func (p *Platform) UnloadEntry(ctx context.Context, rt *hub.Runtime) error {
	entryID := rt.Entry.EntryID
	p.mu.Lock()
	le, ok := p.entries[entryID]
	if ok {
		le.remove()
		delete(p.entries, entryID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	if err := p.sink.RemoveEntry(ctx, entryID); err != nil {
		p.mu.Lock()
		le.remove = rt.Coordinator.AddListener(le.publish)
		p.entries[entryID] = le
		p.mu.Unlock()
		return err
	}
	return nil
}

// Entities returns the registered entities of an entry.
func (p *Platform) Entities(entryID string) []Entity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[entryID].entities
}

// StatesAt evaluates every registered entity at the given time. Snapshots are
// the live ones; only the clock differs.
func (p *Platform) StatesAt(rtLookup func(entryID string) (*hub.Runtime, bool), at time.Time) []ports.EntityState {
	p.mu.RLock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)

	var out []ports.EntityState
	for _, id := range ids {
		rt, ok := rtLookup(id)
		if !ok {
			continue
		}
		local := at.In(rt.Coordinator.Now().Location())
		clock := func() time.Time { return local }
		entities := NewEntities(id, rt.Coordinator, rt.Entry.Data.DailyTarget, clock)
		out = append(out, States(id, entities, local)...)
	}
	return out
}
