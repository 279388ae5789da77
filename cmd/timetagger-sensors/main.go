package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"timetagger-sensors/internal/app"
	"timetagger-sensors/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code. Deferred shutdown always runs before it
// returns.
func run(args []string) int {
	// Flags
	fs := flag.NewFlagSet("timetagger-sensors", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file (optional)")
	once := fs.Bool("once", false, "Load entries, refresh once, print sensor states and exit")
	verbose := fs.Bool("v", false, "Enable verbose logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		return 1
	}

	// Logger
	logger := newLogger(cfg.Logging, *verbose)
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to initialize app", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Close(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	if *once {
		states, err := application.RunOnce(ctx)
		if err != nil {
			logger.Error("refresh failed", slog.String("error", err.Error()))
			return 1
		}
		for _, s := range states {
			logger.Info("sensor",
				slog.String("entry_id", s.EntryID),
				slog.String("unique_id", s.UniqueID),
				slog.Float64("value", s.Value),
				slog.Bool("available", s.Available),
			)
		}
		return 0
	}

	if err := application.Start(ctx); err != nil {
		logger.Error("failed to start entries", slog.String("error", err.Error()))
		return 1
	}

	srv := application.HTTPServer(cfg.HTTP.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	return 0
}

func newLogger(lc config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
