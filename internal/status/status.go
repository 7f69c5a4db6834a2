// Package status projects stored submission jobs into the view exposed to
// clients polling for an outcome.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
)

// JobReader is the part of the job store the status service reads from
type JobReader interface {
	Get(ctx context.Context, jobID string) (*domain.SubmissionJob, error)
}

// Projection is the client view of a job
type Projection struct {
	JobID      string
	State      domain.JobStatus
	Attempts   int
	TxID       string
	Payload    []byte
	Error      *domain.ErrorDetail
	EnqueuedAt time.Time
	UpdatedAt  time.Time
}

// Service answers job status queries
type Service struct {
	store JobReader
}

// NewService creates a status service over store
func NewService(store JobReader) *Service {
	return &Service{store: store}
}

// Status returns the projection of jobID. Unknown ids return an error
// wrapping domain.ErrJobNotFound.
func (s *Service) Status(ctx context.Context, jobID string) (*Projection, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	return Project(job), nil
}

// Project builds the client view of job. Errors recorded on retried
// attempts stay hidden until the job has failed for good.
func Project(job *domain.SubmissionJob) *Projection {
	p := &Projection{
		JobID:      job.JobID,
		State:      job.Status,
		Attempts:   job.Attempts,
		EnqueuedAt: job.EnqueuedAt,
		UpdatedAt:  job.UpdatedAt,
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		p.TxID = job.TxID
		p.Payload = append([]byte(nil), job.Payload...)
	case domain.JobStatusFailed:
		detail := job.LastError
		p.Error = &detail
	}

	return p
}
