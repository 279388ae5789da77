package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"timetagger-sensors/internal/coordinator"
	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/ports"
)

var (
	// ErrSetupFailed wraps any failure that keeps an entry from loading.
	ErrSetupFailed = errors.New("hub: entry setup failed")

	// ErrNotFound is returned for an unknown entry ID.
	ErrNotFound = errors.New("hub: entry not found")

	// ErrAlreadyLoaded is returned when setting up an entry that is loaded.
	ErrAlreadyLoaded = errors.New("hub: entry already loaded")

	// ErrUnloadFailed is returned when a platform refused to unload.
	ErrUnloadFailed = errors.New("hub: entry unload failed")

	// ErrSetupInProgress is returned when another setup of the entry is running.
	ErrSetupInProgress = errors.New("hub: entry setup in progress")
)

// State is the lifecycle state of an entry.
type State string

const (
	StateNotLoaded  State = "not_loaded"
	StateLoaded     State = "loaded"
	StateSetupError State = "setup_error"
)

// Runtime is the per-entry context handed to platforms.
type Runtime struct {
	Entry       domain.ConfigEntry
	Coordinator *coordinator.Coordinator

	cancel context.CancelFunc
	done   chan struct{}
}

// Platform consumes a loaded entry. SetupEntry runs after the first refresh.
type Platform interface {
	Name() string
	SetupEntry(ctx context.Context, rt *Runtime) error
	UnloadEntry(ctx context.Context, rt *Runtime) error
}

// ClientFactory builds the records client for an entry.
type ClientFactory func(cfg domain.ConnectionConfig) ports.RecordsClient

// EntryStatus pairs a persisted entry with its lifecycle state.
type EntryStatus struct {
	Entry     domain.ConfigEntry
	State     State
	LastError string
}

// Hub owns config entries: it persists them, sets them up, and unloads them.
type Hub struct {
	log       *slog.Logger
	store     ports.EntryStore
	newClient ClientFactory
	coordOpts coordinator.Options
	platforms []Platform

	runCtx  context.Context
	stopRun context.CancelFunc

	mu        sync.Mutex
	runtimes  map[string]*Runtime
	settingUp map[string]struct{}
	states    map[string]State
	errs      map[string]string
}

// New builds a hub. Coordinator loops run until Stop.
func New(log *slog.Logger, store ports.EntryStore, newClient ClientFactory, coordOpts coordinator.Options, platforms ...Platform) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:       log,
		store:     store,
		newClient: newClient,
		coordOpts: coordOpts,
		platforms: platforms,
		runCtx:    ctx,
		stopRun:   cancel,
		runtimes:  make(map[string]*Runtime),
		settingUp: make(map[string]struct{}),
		states:    make(map[string]State),
		errs:      make(map[string]string),
	}
}

// Platforms returns the names of the platforms entries are forwarded to.
func (h *Hub) Platforms() []string {
	out := make([]string, 0, len(h.platforms))
	for _, p := range h.platforms {
		out = append(out, p.Name())
	}
	return out
}

// Start sets up every persisted entry. Setup failures are logged and recorded
// on the entry; they do not stop the others.
func (h *Hub) Start(ctx context.Context) error {
	entries, err := h.store.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}
	for _, e := range entries {
		if err := h.SetupEntry(ctx, e); err != nil {
			h.log.Error("entry setup failed", slog.String("entry_id", e.EntryID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// SetupEntry creates the entry's coordinator, performs the first refresh,
// forwards the entry to all platforms and starts polling. Nothing is retained
// when any step fails. Only one setup of an entry runs at a time.
func (h *Hub) SetupEntry(ctx context.Context, entry domain.ConfigEntry) error {
	h.mu.Lock()
	if _, ok := h.runtimes[entry.EntryID]; ok {
		h.mu.Unlock()
		return ErrAlreadyLoaded
	}
	if _, ok := h.settingUp[entry.EntryID]; ok {
		h.mu.Unlock()
		return ErrSetupInProgress
	}
	h.settingUp[entry.EntryID] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.settingUp, entry.EntryID)
		h.mu.Unlock()
	}()

	log := h.log.With(slog.String("entry_id", entry.EntryID))
	coord := coordinator.New(log, h.newClient(entry.Data), entry.Data, h.coordOpts)
	if err := coord.FirstRefresh(ctx); err != nil {
		h.setState(entry.EntryID, StateSetupError, err)
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	rt := &Runtime{Entry: entry, Coordinator: coord}
	for i, p := range h.platforms {
		if err := p.SetupEntry(ctx, rt); err != nil {
			for _, done := range h.platforms[:i] {
				if uerr := done.UnloadEntry(ctx, rt); uerr != nil {
					log.Warn("platform rollback failed", slog.String("platform", done.Name()), slog.String("error", uerr.Error()))
				}
			}
			h.setState(entry.EntryID, StateSetupError, err)
			return fmt.Errorf("%w: platform %s: %w", ErrSetupFailed, p.Name(), err)
		}
	}

	loopCtx, cancel := context.WithCancel(h.runCtx)
	rt.cancel = cancel
	rt.done = make(chan struct{})

	h.mu.Lock()
	h.runtimes[entry.EntryID] = rt
	h.states[entry.EntryID] = StateLoaded
	delete(h.errs, entry.EntryID)
	h.mu.Unlock()

	go func() {
		defer close(rt.done)
		coord.Run(loopCtx)
	}()
	log.Info("entry loaded", slog.String("title", entry.Title), slog.Duration("interval", coord.UpdateInterval()))
	return nil
}

// UnloadEntry unloads all platforms of a loaded entry. When any platform fails
// the runtime is kept so a retry can reuse it and false is returned. An entry
// without a runtime unloads trivially.
func (h *Hub) UnloadEntry(ctx context.Context, entryID string) (bool, error) {
	h.mu.Lock()
	rt, ok := h.runtimes[entryID]
	h.mu.Unlock()
	if !ok {
		return true, nil
	}

	var errs []error
	for _, p := range h.platforms {
		if err := p.UnloadEntry(ctx, rt); err != nil {
			errs = append(errs, fmt.Errorf("platform %s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return false, fmt.Errorf("%w: %w", ErrUnloadFailed, errors.Join(errs...))
	}

	rt.cancel()
	<-rt.done

	h.mu.Lock()
	delete(h.runtimes, entryID)
	h.states[entryID] = StateNotLoaded
	h.mu.Unlock()
	h.log.Info("entry unloaded", slog.String("entry_id", entryID))
	return true, nil
}

// AddEntry persists a new entry and sets it up. The entry stays persisted when
// setup fails, in state setup_error.
func (h *Hub) AddEntry(ctx context.Context, entry domain.ConfigEntry) error {
	if err := h.store.AddEntry(ctx, entry); err != nil {
		return fmt.Errorf("persisting entry: %w", err)
	}
	h.setState(entry.EntryID, StateNotLoaded, nil)
	return h.SetupEntry(ctx, entry)
}

// RemoveEntry unloads an entry and deletes it from the store.
func (h *Hub) RemoveEntry(ctx context.Context, entryID string) error {
	if _, err := h.findEntry(ctx, entryID); err != nil {
		return err
	}
	ok, err := h.UnloadEntry(ctx, entryID)
	if !ok {
		return err
	}
	if err := h.store.RemoveEntry(ctx, entryID); err != nil {
		return fmt.Errorf("removing entry: %w", err)
	}
	h.mu.Lock()
	delete(h.states, entryID)
	delete(h.errs, entryID)
	h.mu.Unlock()
	return nil
}

// ReloadEntry unloads and sets up an entry again.
func (h *Hub) ReloadEntry(ctx context.Context, entryID string) error {
	entry, err := h.findEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if ok, err := h.UnloadEntry(ctx, entryID); !ok {
		return err
	}
	return h.SetupEntry(ctx, entry)
}

// Runtime returns the runtime of a loaded entry.
func (h *Hub) Runtime(entryID string) (*Runtime, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rt, ok := h.runtimes[entryID]
	return rt, ok
}

// Entries lists persisted entries with their state.
func (h *Hub) Entries(ctx context.Context) ([]EntryStatus, error) {
	entries, err := h.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		st, ok := h.states[e.EntryID]
		if !ok {
			st = StateNotLoaded
		}
		out = append(out, EntryStatus{Entry: e, State: st, LastError: h.errs[e.EntryID]})
	}
	return out, nil
}

// Stop unloads every loaded entry and stops all coordinator loops.
func (h *Hub) Stop(ctx context.Context) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.runtimes))
	for id := range h.runtimes {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		if ok, err := h.UnloadEntry(ctx, id); !ok {
			h.log.Warn("entry unload failed during shutdown", slog.String("entry_id", id), slog.String("error", err.Error()))
		}
	}
	h.stopRun()
}

func (h *Hub) findEntry(ctx context.Context, entryID string) (domain.ConfigEntry, error) {
	entries, err := h.store.ListEntries(ctx)
	if err != nil {
		return domain.ConfigEntry{}, err
	}
	for _, e := range entries {
		if e.EntryID == entryID {
			return e, nil
		}
	}
	return domain.ConfigEntry{}, fmt.Errorf("%w: %s", ErrNotFound, entryID)
}

func (h *Hub) setState(entryID string, st State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[entryID] = st
	if err != nil {
		h.errs[entryID] = err.Error()
	} else {
		delete(h.errs, entryID)
	}
}
