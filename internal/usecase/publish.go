package usecase

import (
	"context"
	"errors"
	"log/slog"

	"timetagger-sensors/internal/ports"
)

// PublishUseCase fans entity states out to every configured sink.
// It implements ports.StateSink itself so the sensor platform sees one sink.
type PublishUseCase struct {
	Log   *slog.Logger
	Sinks []ports.StateSink
}

// PublishStates delivers states to all sinks. A failing sink does not stop the
// others; their errors are joined.
func (uc *PublishUseCase) PublishStates(ctx context.Context, states []ports.EntityState) error {
	if len(states) == 0 {
		return nil
	}
	var errs []error
	for _, s := range uc.Sinks {
		if err := s.PublishStates(ctx, states); err != nil {
			errs = append(errs, err)
		}
	}
	uc.Log.Debug("published sensor states",
		slog.String("entry_id", states[0].EntryID),
		slog.Int("count", len(states)),
		slog.Int("sinks", len(uc.Sinks)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// RemoveEntry asks the sinks to drop an entry's entities, last sink first. It
// stops at the first refusal, so sinks listed earlier (the state registry)
// keep serving an entry whose unload failed.
func (uc *PublishUseCase) RemoveEntry(ctx context.Context, entryID string) error {
	for i := len(uc.Sinks) - 1; i >= 0; i-- {
		if err := uc.Sinks[i].RemoveEntry(ctx, entryID); err != nil {
			return err
		}
	}
	return nil
}
