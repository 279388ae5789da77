package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"timetagger-sensors/internal/adapter/influx"
	"timetagger-sensors/internal/adapter/mqtt"
	msql "timetagger-sensors/internal/adapter/mysql"
	"timetagger-sensors/internal/adapter/sqlite"
	"timetagger-sensors/internal/adapter/timetagger"
	"timetagger-sensors/internal/config"
	"timetagger-sensors/internal/configflow"
	"timetagger-sensors/internal/coordinator"
	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/hub"
	"timetagger-sensors/internal/ports"
	"timetagger-sensors/internal/sensor"
	"timetagger-sensors/internal/usecase"
)

// App wires adapters, the hub and the HTTP API.
type App struct {
	log      *slog.Logger
	cfg      *config.Config
	store    ports.EntryStore
	hub      *hub.Hub
	sensors  *sensor.Platform
	registry *usecase.StateRegistry
	flows    *configflow.Manager
	now      func() time.Time

	closers []func() error
}

// New opens the entry store and the configured sinks.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}

	var (
		sinks   []ports.StateSink
		closers []func() error
	)
	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			store.Close()
			return nil, err
		}
		sinks = append(sinks, mqtt.NewSink(client, client.Topics(), client.QoS(), log))
		closers = append(closers, client.Close)
	}
	if cfg.InfluxDB.Enabled {
		client, err := influx.Connect(cfg.InfluxDB, log)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			store.Close()
			return nil, err
		}
		sinks = append(sinks, client)
		closers = append(closers, client.Close)
	}

	newClient := func(c domain.ConnectionConfig) ports.RecordsClient {
		return timetagger.NewClient(c.APIURL, c.Token, log)
	}
	opts := coordinator.Options{Interval: cfg.PollInterval, Location: cfg.Location()}
	a := newApp(log, cfg, store, newClient, opts, sinks...)
	a.closers = closers
	return a, nil
}

func openStore(ctx context.Context, sc config.StoreConfig, log *slog.Logger) (ports.EntryStore, error) {
	switch sc.Driver {
	case "mysql":
		return msql.NewClient(ctx, sc.DSN, log)
	case "sqlite":
		return sqlite.New(ctx, sc.DSN, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// newApp builds the application on top of an open store. The state registry
// is always the first sink.
func newApp(log *slog.Logger, cfg *config.Config, store ports.EntryStore, newClient hub.ClientFactory, opts coordinator.Options, sinks ...ports.StateSink) *App {
	registry := usecase.NewStateRegistry()
	uc := &usecase.PublishUseCase{
		Log:   log,
		Sinks: append([]ports.StateSink{registry}, sinks...),
	}
	platform := sensor.NewPlatform(log, uc)
	h := hub.New(log, store, newClient, opts, platform)

	return &App{
		log:      log,
		cfg:      cfg,
		store:    store,
		hub:      h,
		sensors:  platform,
		registry: registry,
		flows:    configflow.NewManager(log),
		now:      time.Now,
	}
}

// Start sets up persisted entries and creates the bootstrap entry when the
// store is empty.
func (a *App) Start(ctx context.Context) error {
	if err := a.hub.Start(ctx); err != nil {
		return err
	}
	return a.bootstrap(ctx)
}

func (a *App) bootstrap(ctx context.Context) error {
	b := a.cfg.Bootstrap
	if !b.Enabled() {
		return nil
	}
	entries, err := a.store.ListEntries(ctx)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		a.log.Debug("bootstrap skipped, store has entries", slog.Int("entries", len(entries)))
		return nil
	}

	in := &configflow.Input{APIURL: &b.APIURL, Token: &b.Token, DailyTarget: b.DailyTarget}
	if b.WorkTags != "" {
		in.WorkTags = &b.WorkTags
	}
	res := a.flows.Init(nil, in)
	if res.Type != configflow.ResultCreateEntry {
		return fmt.Errorf("bootstrap entry rejected: %s %v", res.Reason, res.Errors)
	}
	_, err = a.createEntry(ctx, res, domain.SourceEnv)
	return err
}

// createEntry persists the entry of a finished flow and sets it up. The
// entry is returned even when setup fails.
func (a *App) createEntry(ctx context.Context, res configflow.Result, source string) (domain.ConfigEntry, error) {
	entry := configflow.NewEntry(res, source, a.now())
	err := a.hub.AddEntry(ctx, entry)
	if err != nil && !errors.Is(err, hub.ErrSetupFailed) {
		return domain.ConfigEntry{}, err
	}
	a.log.Info("config entry created",
		slog.String("entry_id", entry.EntryID),
		slog.String("source", source),
		slog.String("work_tags", entry.Data.WorkTags),
	)
	return entry, err
}

// RunOnce loads every entry, which performs one refresh each, and returns the
// resulting sensor states.
func (a *App) RunOnce(ctx context.Context) ([]ports.EntityState, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	return a.registry.States(""), nil
}

// Close unloads all entries and releases sinks and the store.
func (a *App) Close(ctx context.Context) error {
	a.hub.Stop(ctx)
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
