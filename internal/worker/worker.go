package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/cuongbtq/certledger/internal/ledger"
	"github.com/cuongbtq/certledger/internal/retry"
)

// ErrShutdownTimeout is returned by Start when in-flight jobs did not finish
// within the shutdown timeout
var ErrShutdownTimeout = errors.New("worker shutdown timed out")

// Store is the part of the job store the worker drives
type Store interface {
	ClaimNext(ctx context.Context, workerID string) (*domain.SubmissionJob, error)
	CompleteWithResult(ctx context.Context, jobID, workerID, txID string, payload []byte) error
	CompleteWithError(ctx context.Context, jobID, workerID string, detail domain.ErrorDetail) error
	RequeueWithBackoff(ctx context.Context, jobID, workerID string, delay time.Duration, detail domain.ErrorDetail) error
	Heartbeat(ctx context.Context, jobID, workerID string) error
	RecoverStale(ctx context.Context, ownerID string, olderThan time.Duration) ([]string, error)
}

// Resolver maps a job identity to the gateway that submits on its behalf
type Resolver interface {
	Resolve(orgID string) (ledger.Gateway, error)
}

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Store    Store
	Gateways Resolver
	Policy   retry.Policy
	// Notifier is optional. Without it workers rely on polling alone.
	Notifier Notifier

	// WorkerID must be stable across restarts of the same process and unique
	// among running processes. Jobs left ACTIVE under this id are requeued on start.
	WorkerID          string
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StaleJobThreshold time.Duration
	ReapInterval      time.Duration
	ShutdownTimeout   time.Duration
}

// Worker claims submission jobs and drives them to the ledger
type Worker struct {
	logger            *slog.Logger
	store             Store
	gateways          Resolver
	policy            retry.Policy
	notifier          Notifier
	workerID          string
	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration
	reapInterval      time.Duration
	shutdownTimeout   time.Duration

	wake     chan struct{}
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		gateways:          cfg.Gateways,
		policy:            cfg.Policy,
		notifier:          cfg.Notifier,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		staleJobThreshold: cfg.StaleJobThreshold,
		reapInterval:      cfg.ReapInterval,
		shutdownTimeout:   cfg.ShutdownTimeout,
		stopChan:          make(chan struct{}),
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = 10 * time.Second
	}
	if w.staleJobThreshold <= 0 {
		w.staleJobThreshold = 5 * time.Minute
	}
	if w.reapInterval <= 0 {
		w.reapInterval = w.staleJobThreshold / 2
	}
	if w.shutdownTimeout <= 0 {
		w.shutdownTimeout = 30 * time.Second
	}
	if w.workerID == "" {
		w.workerID = "worker"
	}

	w.wake = make(chan struct{}, w.concurrency)

	return w
}

// Start recovers this worker's orphaned jobs, then runs the worker pool until
// ctx is canceled or Stop is called. It returns once in-flight submissions
// have finished, or with ErrShutdownTimeout when they outlive the shutdown timeout.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("heartbeat_interval", w.heartbeatInterval),
		slog.Duration("stale_job_threshold", w.staleJobThreshold),
	)

	if err := w.recoverJobs(ctx, w.workerID); err != nil {
		return fmt.Errorf("failed to recover jobs on startup: %w", err)
	}

	if w.notifier != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			return err
		}
		w.wg.Add(1)
		go w.startMessageDispatcher(ctx, deliveries)
	}

	w.wg.Add(1)
	go w.runReaper(ctx)

	w.spawnWorkerPool(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
		w.logger.Info("Worker stop requested, stopping...")
	}

	return w.wait()
}

// Stop signals the worker to stop claiming jobs. Start returns once
// in-flight jobs are done.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
}

func (w *Worker) wait() error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(w.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
		return nil
	case <-timer.C:
		w.logger.Error("Worker shutdown timed out with jobs in flight",
			slog.Duration("shutdown_timeout", w.shutdownTimeout),
		)
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, w.shutdownTimeout)
	}
}

// notify wakes one idle worker goroutine without blocking
func (w *Worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stopChan:
		return true
	default:
		return false
	}
}
