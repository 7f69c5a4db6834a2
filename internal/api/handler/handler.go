package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/cuongbtq/certledger/internal/status"
	"github.com/cuongbtq/certledger/internal/storage"
)

// JobStore is the part of the job store the API reads and writes
type JobStore interface {
	Enqueue(ctx context.Context, identity, function string, args []string) (string, error)
	Get(ctx context.Context, jobID string) (*domain.SubmissionJob, error)
	List(ctx context.Context, filter storage.JobFilter) ([]*domain.SubmissionJob, error)
	Ping(ctx context.Context) error
}

// Evaluator runs read-only ledger queries as an organization
type Evaluator interface {
	Evaluate(ctx context.Context, orgID, function string, args []string) ([]byte, error)
}

// Publisher announces newly enqueued jobs to idle workers
type Publisher interface {
	PublishJobReady(ctx context.Context, jobID string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Store  JobStore
	// Ledger is optional. Without it the evaluate endpoint answers 503.
	Ledger Evaluator
	// Publisher is optional. Without it workers find new jobs by polling.
	Publisher   Publisher
	ServiceName string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     JobStore
	status    *status.Service
	publisher Publisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		status:    status.NewService(deps.Store),
		publisher: deps.Publisher,
	}
}

// LedgerHandler handles read-only ledger queries
type LedgerHandler struct {
	logger *slog.Logger
	ledger Evaluator
}

// NewLedgerHandler creates a new LedgerHandler instance
func NewLedgerHandler(deps *Dependencies) *LedgerHandler {
	return &LedgerHandler{
		logger: deps.Logger,
		ledger: deps.Ledger,
	}
}

// HealthHandler answers liveness and readiness probes
type HealthHandler struct {
	store       JobStore
	serviceName string
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		store:       deps.Store,
		serviceName: deps.ServiceName,
	}
}
