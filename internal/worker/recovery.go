package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/certledger/internal/metrics"
)

// recoverJobs requeues ACTIVE jobs owned by ownerID or whose heartbeat is
// older than the stale job threshold. Attempts are preserved.
func (w *Worker) recoverJobs(ctx context.Context, ownerID string) error {
	recovered, err := w.store.RecoverStale(ctx, ownerID, w.staleJobThreshold)
	if err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if len(recovered) == 0 {
		return nil
	}

	metrics.JobsRecoveredTotal.Add(float64(len(recovered)))
	w.logger.Warn("Recovered stale jobs",
		slog.String("owner_id", ownerID),
		slog.Int("count", len(recovered)),
		slog.Any("job_ids", recovered),
	)

	for range recovered {
		w.notify()
	}
	return nil
}

// runReaper periodically recovers jobs of workers that stopped heartbeating
func (w *Worker) runReaper(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if err := w.recoverJobs(ctx, ""); err != nil {
				w.logger.Error("Stale job reaper failed",
					slog.Any("error", err),
				)
			}
		}
	}
}
