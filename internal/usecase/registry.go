package usecase

import (
	"context"
	"sort"
	"sync"

	"timetagger-sensors/internal/ports"
)

// StateRegistry keeps the latest published state of every entity in memory.
// The HTTP API reads from it.
type StateRegistry struct {
	mu     sync.RWMutex
	states map[string][]ports.EntityState // entry ID -> states in entity order
}

func NewStateRegistry() *StateRegistry {
	return &StateRegistry{states: make(map[string][]ports.EntityState)}
}

func (r *StateRegistry) PublishStates(_ context.Context, states []ports.EntityState) error {
	if len(states) == 0 {
		return nil
	}
	cp := make([]ports.EntityState, len(states))
	copy(cp, states)
	r.mu.Lock()
	r.states[states[0].EntryID] = cp
	r.mu.Unlock()
	return nil
}

func (r *StateRegistry) RemoveEntry(_ context.Context, entryID string) error {
	r.mu.Lock()
	delete(r.states, entryID)
	r.mu.Unlock()
	return nil
}

// States returns the latest states, ordered by entry ID then entity order.
// An empty entryID returns every entry.
func (r *StateRegistry) States(entryID string) []ports.EntityState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		if entryID == "" || id == entryID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := []ports.EntityState{}
	for _, id := range ids {
		out = append(out, r.states[id]...)
	}
	return out
}
