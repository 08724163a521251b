package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/quanglt/vulnscan-be/shared/timeauthority"
)

// PurgeStore deletes terminal jobs (and, via cascade, their detail rows)
// created before the cutoff timestamp
type PurgeStore interface {
	PurgeOlderThan(ctx context.Context, cutoff int64) (int64, error)
}

// RunRetention periodically deletes terminal jobs older than maxAge. It
// returns when the context is canceled.
func RunRetention(ctx context.Context, store PurgeStore, clock timeauthority.Source, maxAge, interval time.Duration, logger *slog.Logger) {
	if maxAge <= 0 || interval <= 0 {
		logger.Info("Retention purge disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Retention purge started",
		slog.Duration("max_age", maxAge),
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Retention purge stopped")
			return

		case <-ticker.C:
			cutoff := clock.Now(ctx) - int64(maxAge.Seconds())
			deleted, err := store.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				logger.Error("Retention purge failed",
					slog.Any("error", err),
				)
				continue
			}

			if deleted > 0 {
				logger.Info("Retention purge removed old jobs",
					slog.Int64("deleted", deleted),
					slog.Int64("cutoff", cutoff),
				)
			}
		}
	}
}
