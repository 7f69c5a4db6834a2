package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/cuongbtq/certledger/internal/metrics"
)

// processJob submits a claimed job and records the outcome. Store failures
// are logged and leave the job ACTIVE for the reaper to recover. An outcome
// for a claim that was recovered in the meantime is discarded.
func (w *Worker) processJob(ctx context.Context, job *domain.SubmissionJob) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	logger := w.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("identity", job.Identity),
		slog.String("function", job.Function),
	)
	logger.Info("Processing job",
		slog.Int("attempts", job.Attempts),
	)

	gw, err := w.gateways.Resolve(job.Identity)
	if err != nil {
		w.handleFailure(ctx, logger, job, err)
		return
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.sendJobHeartbeat(heartbeatCtx, logger, job.JobID)
	}()

	start := time.Now()
	result, err := gw.Submit(ctx, job.Function, job.Args)
	metrics.SubmitDuration.Observe(time.Since(start).Seconds())

	stopHeartbeat()
	<-heartbeatDone

	if err != nil {
		w.handleFailure(ctx, logger, job, err)
		return
	}

	if err := w.store.CompleteWithResult(ctx, job.JobID, w.workerID, result.TxID, result.Payload); err != nil {
		logStoreError(logger, "Failed to record job result", err,
			slog.String("tx_id", result.TxID),
		)
		return
	}

	metrics.JobsCompletedTotal.Inc()
	logger.Info("Job completed successfully",
		slog.String("tx_id", result.TxID),
		slog.Duration("duration", time.Since(start)),
	)
}

// handleFailure requeues a job with backoff or fails it for good,
// depending on the classified error and the attempts already spent
func (w *Worker) handleFailure(ctx context.Context, logger *slog.Logger, job *domain.SubmissionJob, err error) {
	decision := w.policy.Decide(job.Attempts, err)
	detail := decision.Outcome.Detail()

	if decision.Retry {
		if storeErr := w.store.RequeueWithBackoff(ctx, job.JobID, w.workerID, decision.Delay, detail); storeErr != nil {
			logStoreError(logger, "Failed to requeue job", storeErr)
			return
		}

		metrics.JobsRetriedTotal.WithLabelValues(detail.Code).Inc()
		logger.Warn("Job will be retried",
			slog.String("code", detail.Code),
			slog.Int("attempt", decision.Attempt),
			slog.Duration("retry_after", decision.Delay),
			slog.Any("error", err),
		)
		return
	}

	if storeErr := w.store.CompleteWithError(ctx, job.JobID, w.workerID, detail); storeErr != nil {
		logStoreError(logger, "Failed to record job failure", storeErr,
			slog.String("code", detail.Code),
		)
		return
	}

	metrics.JobsFailedTotal.WithLabelValues(detail.Code).Inc()
	logger.Error("Job failed",
		slog.String("code", detail.Code),
		slog.String("class", decision.Outcome.Class.String()),
		slog.Int("attempts", decision.Attempt),
		slog.Any("error", err),
	)
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp until
// ctx is done or the claim is lost
func (w *Worker) sendJobHeartbeat(ctx context.Context, logger *slog.Logger, jobID string) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			err := w.store.Heartbeat(ctx, jobID, w.workerID)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrClaimLost):
				logger.Warn("Job claim lost, stopping heartbeat",
					slog.Any("error", err),
				)
				return
			default:
				logger.Warn("Failed to update job heartbeat",
					slog.Any("error", err),
				)
			}
		}
	}
}

// logStoreError logs a failed outcome write. A lost claim means another
// worker owns the job now, so it is not an error of this worker.
func logStoreError(logger *slog.Logger, msg string, err error, attrs ...any) {
	if errors.Is(err, domain.ErrClaimLost) {
		logger.Warn("Job claim lost, outcome discarded", append(attrs, slog.Any("error", err))...)
		return
	}
	logger.Error(msg, append(attrs, slog.Any("error", err))...)
}
