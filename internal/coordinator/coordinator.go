package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"timetagger-sensors/internal/adapter/timetagger"
	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/ports"
)

// DefaultUpdateInterval is the polling cadence when none is configured.
const DefaultUpdateInterval = 5 * time.Minute

// UpdateFailedError reports a failed refresh cycle. Status carries the HTTP
// status when the upstream answered with a non-200.
type UpdateFailedError struct {
	Status int
	Err    error
}

func (e *UpdateFailedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("TimeTagger API error: %d", e.Status)
	}
	return fmt.Sprintf("error communicating with TimeTagger: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error { return e.Err }

// Listener is notified after every refresh, successful or not.
type Listener func(ctx context.Context)

// Options tune a Coordinator. Zero values fall back to defaults.
type Options struct {
	Interval time.Duration
	Location *time.Location
	Now      func() time.Time
}

// Coordinator polls TimeTagger for the today, week and month windows and holds
// the latest Snapshot.
//
// Refreshes are serialized; the Snapshot pointer is swapped atomically and the
// previous Snapshot is kept when a refresh fails.
type Coordinator struct {
	log      *slog.Logger
	client   ports.RecordsClient
	cfg      domain.ConnectionConfig
	interval time.Duration
	loc      *time.Location
	now      func() time.Time

	snapshot atomic.Pointer[domain.Snapshot]

	refreshMu sync.Mutex

	mu         sync.RWMutex
	lastOK     bool
	lastErr    error
	listeners  map[int]Listener
	nextListen int
}

// New builds a coordinator for one entry. No request is made until Refresh.
func New(log *slog.Logger, client ports.RecordsClient, cfg domain.ConnectionConfig, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultUpdateInterval
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log.Debug("coordinator configured",
		slog.String("work_tags", cfg.WorkTags),
		slog.Duration("interval", opts.Interval),
		slog.String("tz", opts.Location.String()),
	)
	return &Coordinator{
		log:       log,
		client:    client,
		cfg:       cfg,
		interval:  opts.Interval,
		loc:       opts.Location,
		now:       opts.Now,
		listeners: make(map[int]Listener),
	}
}

// Config returns the entry's connection settings.
func (c *Coordinator) Config() domain.ConnectionConfig { return c.cfg }

// UpdateInterval returns the polling cadence.
func (c *Coordinator) UpdateInterval() time.Duration { return c.interval }

// Now returns the current time in the coordinator's timezone.
func (c *Coordinator) Now() time.Time { return c.now().In(c.loc) }

// Snapshot returns the latest successful result, nil before the first one.
func (c *Coordinator) Snapshot() *domain.Snapshot { return c.snapshot.Load() }

// LastUpdateSuccess reports whether the most recent refresh succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastOK
}

// LastError returns the error of the most recent refresh, nil on success.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// AddListener registers fn and returns a function that removes it.
func (c *Coordinator) AddListener(fn Listener) (remove func()) {
	c.mu.Lock()
	id := c.nextListen
	c.nextListen++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// FirstRefresh performs the refresh required before an entry counts as set up.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("first refresh: %w", err)
	}
	return nil
}

// Refresh fetches all windows and replaces the Snapshot. On failure the
// previous Snapshot stays in place and an *UpdateFailedError is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	snap, err := c.fetch(ctx)

	c.mu.Lock()
	if err != nil {
		c.lastOK = false
		c.lastErr = err
	} else {
		c.snapshot.Store(snap)
		c.lastOK = true
		c.lastErr = nil
	}
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("refresh failed", slog.String("error", err.Error()))
	} else {
		c.log.Debug("refresh completed",
			slog.Int("today", len(snap.Records[domain.WindowToday])),
			slog.Int("week", len(snap.Records[domain.WindowWeek])),
			slog.Int("month", len(snap.Records[domain.WindowMonth])),
		)
	}

	for _, l := range listeners {
		l(ctx)
	}
	return err
}

func (c *Coordinator) fetch(ctx context.Context) (*domain.Snapshot, error) {
	now := c.Now()
	starts := WindowStarts(now)
	results := make([][]domain.Record, len(domain.Windows))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range domain.Windows {
		g.Go(func() error {
			records, err := c.client.ListRecords(gctx, starts[w], now)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", w, err)
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var apiErr *timetagger.APIError
		if errors.As(err, &apiErr) {
			return nil, &UpdateFailedError{Status: apiErr.Status, Err: err}
		}
		return nil, &UpdateFailedError{Err: err}
	}

	snap := &domain.Snapshot{
		Records:   make(map[domain.Window][]domain.Record, len(domain.Windows)),
		FetchedAt: now,
	}
	for i, w := range domain.Windows {
		snap.Records[w] = results[i]
	}
	return snap, nil
}

// Run refreshes on every tick until ctx is cancelled. The first refresh is
// expected to have happened during setup.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are recorded on the coordinator and logged by Refresh.
			_ = c.Refresh(ctx)
		}
	}
}
