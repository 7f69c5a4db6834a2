package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/certledger/internal/metrics"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop claims and processes jobs until the worker stops. When nothing
// is claimable it waits for the poll interval or a wake-up.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for !w.stopping(ctx) {
		processed, err := w.runOnce(ctx)
		if err != nil {
			w.logger.Error("Failed to claim job",
				slog.String("worker_name", workerName),
				slog.Any("error", err),
			)
		}
		if processed {
			continue
		}
		if !w.waitForWork(ctx) {
			break
		}
	}

	w.logger.Debug("Worker goroutine stopped",
		slog.String("worker_name", workerName),
	)
}

// runOnce claims at most one job and processes it to a stored outcome.
// It reports whether a job was claimed.
func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNext(ctx, w.workerID)
	if err != nil {
		return false, fmt.Errorf("failed to claim next job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// A claimed job is always driven to an outcome, even during shutdown.
	w.processJob(context.WithoutCancel(ctx), job)
	return true, nil
}

// waitForWork blocks until the poll interval elapses or a wake-up arrives.
// It returns false when the worker is stopping.
func (w *Worker) waitForWork(ctx context.Context) bool {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	case <-w.wake:
		return true
	case <-timer.C:
		return true
	}
}
