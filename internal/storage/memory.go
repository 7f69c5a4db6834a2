package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is an in-process job store. Safe for concurrent access.
// Jobs do not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.SubmissionJob
	opts options
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*domain.SubmissionJob),
		opts: newOptions(opts),
	}
}

// Enqueue stores a new queued job and returns its id
func (s *MemoryStore) Enqueue(_ context.Context, identity, function string, args []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := uuid.New().String()
	s.jobs[jobID] = domain.NewSubmissionJob(jobID, identity, function, args, s.opts.now())
	return jobID, nil
}

// ClaimNext moves the oldest eligible queued job to ACTIVE
func (s *MemoryStore) ClaimNext(_ context.Context, workerID string) (*domain.SubmissionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	var next *domain.SubmissionJob
	for _, job := range s.jobs {
		if !job.EligibleAt(now, s.opts.clockSkew) {
			continue
		}
		if next == nil || claimsBefore(job, next) {
			next = job
		}
	}

	if next == nil {
		return nil, nil
	}

	if err := next.Claim(workerID, now); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return next.Clone(), nil
}

// CompleteWithResult marks an active job held by workerID COMPLETED
func (s *MemoryStore) CompleteWithResult(_ context.Context, jobID, workerID, txID string, payload []byte) error {
	return s.mutate(jobID, "complete job", func(job *domain.SubmissionJob, now time.Time) error {
		_, err := job.Complete(workerID, txID, payload, now)
		return err
	})
}

// CompleteWithError marks an active job held by workerID FAILED
func (s *MemoryStore) CompleteWithError(_ context.Context, jobID, workerID string, detail domain.ErrorDetail) error {
	return s.mutate(jobID, "fail job", func(job *domain.SubmissionJob, now time.Time) error {
		_, err := job.Fail(workerID, detail, now)
		return err
	})
}

// RequeueWithBackoff returns an active job to the queue, eligible after delay
func (s *MemoryStore) RequeueWithBackoff(_ context.Context, jobID, workerID string, delay time.Duration, detail domain.ErrorDetail) error {
	return s.mutate(jobID, "requeue job", func(job *domain.SubmissionJob, now time.Time) error {
		return job.Requeue(workerID, detail, now.Add(delay), now)
	})
}

// Get returns a copy of the job
func (s *MemoryStore) Get(_ context.Context, jobID string) (*domain.SubmissionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, domain.ErrJobNotFound)
	}
	return job.Clone(), nil
}

// Heartbeat refreshes the liveness timestamp of an active job held by workerID
func (s *MemoryStore) Heartbeat(_ context.Context, jobID, workerID string) error {
	return s.mutate(jobID, "update job heartbeat", func(job *domain.SubmissionJob, now time.Time) error {
		return job.Heartbeat(workerID, now)
	})
}

// RecoverStale requeues active jobs owned by ownerID or with a heartbeat
// older than olderThan
func (s *MemoryStore) RecoverStale(_ context.Context, ownerID string, olderThan time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	var recovered []string
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusActive {
			continue
		}

		owned := ownerID != "" && job.WorkerID == ownerID
		stale := false
		if olderThan > 0 {
			last := job.UpdatedAt
			if job.LastHeartbeatAt != nil {
				last = *job.LastHeartbeatAt
			}
			stale = last.Before(now.Add(-olderThan))
		}
		if !owned && !stale {
			continue
		}

		if err := job.Recover(now); err != nil {
			return recovered, fmt.Errorf("failed to recover job: %w", err)
		}
		recovered = append(recovered, job.JobID)
	}

	sort.Strings(recovered)
	return recovered, nil
}

// List returns jobs newest first, fetching one extra row like PostgresStore
func (s *MemoryStore) List(_ context.Context, filter JobFilter) ([]*domain.SubmissionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*domain.SubmissionJob
	for _, job := range s.jobs {
		if filter.Identity != "" && job.Identity != filter.Identity {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !listsAfter(job, filter.Cursor) {
			continue
		}
		jobs = append(jobs, job.Clone())
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].EnqueuedAt.Equal(jobs[j].EnqueuedAt) {
			return jobs[i].EnqueuedAt.After(jobs[j].EnqueuedAt)
		}
		return jobs[i].JobID > jobs[j].JobID
	})

	if limit := filter.limit() + 1; len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) mutate(jobID, op string, fn func(*domain.SubmissionJob, time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("failed to %s %s: %w", op, jobID, domain.ErrJobNotFound)
	}

	// Apply to a copy so a rejected transition leaves the stored job untouched.
	next := job.Clone()
	if err := fn(next, s.opts.now()); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	s.jobs[jobID] = next
	return nil
}

func claimsBefore(a, b *domain.SubmissionJob) bool {
	if !a.AvailableAt.Equal(b.AvailableAt) {
		return a.AvailableAt.Before(b.AvailableAt)
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// listsAfter reports whether job sorts after the cursor in (enqueued_at DESC, job_id DESC) order
func listsAfter(job *domain.SubmissionJob, cursor *JobCursor) bool {
	if !job.EnqueuedAt.Equal(cursor.EnqueuedAt) {
		return job.EnqueuedAt.Before(cursor.EnqueuedAt)
	}
	return job.JobID < cursor.JobID
}
