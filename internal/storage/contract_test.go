package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jobStore is the contract shared by MemoryStore and PostgresStore
type jobStore interface {
	Enqueue(ctx context.Context, identity, function string, args []string) (string, error)
	ClaimNext(ctx context.Context, workerID string) (*domain.SubmissionJob, error)
	CompleteWithResult(ctx context.Context, jobID, workerID, txID string, payload []byte) error
	CompleteWithError(ctx context.Context, jobID, workerID string, detail domain.ErrorDetail) error
	RequeueWithBackoff(ctx context.Context, jobID, workerID string, delay time.Duration, detail domain.ErrorDetail) error
	Get(ctx context.Context, jobID string) (*domain.SubmissionJob, error)
	Heartbeat(ctx context.Context, jobID, workerID string) error
	RecoverStale(ctx context.Context, ownerID string, olderThan time.Duration) ([]string, error)
	List(ctx context.Context, filter JobFilter) ([]*domain.SubmissionJob, error)
	Ping(ctx context.Context) error
}

var (
	_ jobStore = (*MemoryStore)(nil)
	_ jobStore = (*PostgresStore)(nil)
)

func runStoreContract(t *testing.T, newStore func(t *testing.T) jobStore) {
	ctx := context.Background()

	t.Run("enqueue then get", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", []string{"cert-1", "42"})
		require.NoError(t, err)
		_, err = uuid.Parse(jobID)
		require.NoError(t, err)

		job, err := store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, jobID, job.JobID)
		assert.Equal(t, "org1", job.Identity)
		assert.Equal(t, "IssueCertificate", job.Function)
		assert.Equal(t, []string{"cert-1", "42"}, job.Args)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
		assert.Equal(t, 0, job.Attempts)
		assert.True(t, job.LastError.IsZero())
	})

	t.Run("get unknown job", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Get(ctx, uuid.New().String())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("claim on empty store", func(t *testing.T) {
		store := newStore(t)

		job, err := store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("claim marks job active exactly once", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)

		job, err := store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobID, job.JobID)
		assert.Equal(t, domain.JobStatusActive, job.Status)
		assert.Equal(t, "worker-a", job.WorkerID)

		again, err := store.ClaimNext(ctx, "worker-b")
		require.NoError(t, err)
		assert.Nil(t, again)
	})

	t.Run("complete with result is idempotent", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)

		payload := []byte(`{"id":"cert-1"}`)
		require.NoError(t, store.CompleteWithResult(ctx, jobID, "worker-a", "tx-1", payload))

		first, err := store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, first.Status)
		assert.Equal(t, "tx-1", first.TxID)
		assert.Equal(t, payload, first.Payload)

		require.NoError(t, store.CompleteWithResult(ctx, jobID, "worker-a", "tx-1", payload))
		second, err := store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

		err = store.CompleteWithResult(ctx, jobID, "worker-a", "tx-2", payload)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		err = store.CompleteWithError(ctx, jobID, "worker-a", domain.ErrorDetail{Code: domain.CodeInternalError})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("complete queued job is rejected", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)

		err = store.CompleteWithResult(ctx, jobID, "worker-a", "tx-1", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		job, err := store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
	})

	t.Run("complete with error records final attempt", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)

		detail := domain.ErrorDetail{Code: domain.CodeChaincodeRejected, Message: "certificate cert-1 already exists"}
		require.NoError(t, store.CompleteWithError(ctx, jobID, "worker-a", detail))
		require.NoError(t, store.CompleteWithError(ctx, jobID, "worker-a", detail))

		job, err := store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, detail, job.LastError)
	})

	t.Run("requeue delays eligibility", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)

		detail := domain.ErrorDetail{Code: domain.CodeEndorsementConflict, Message: "mvcc read conflict"}
		require.NoError(t, store.RequeueWithBackoff(ctx, jobID, "worker-a", time.Hour, detail))

		job, err := store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, detail, job.LastError)
		assert.Empty(t, job.WorkerID)

		claimed, err := store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)
		assert.Nil(t, claimed)

		err = store.RequeueWithBackoff(ctx, jobID, "worker-a", 0, detail)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("requeue without delay is claimable again", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)
		require.NoError(t, store.RequeueWithBackoff(ctx, jobID, "worker-a", 0, domain.ErrorDetail{Code: domain.CodeOrderingTimeout}))

		job, err := store.ClaimNext(ctx, "worker-b")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobID, job.JobID)
		assert.Equal(t, 1, job.Attempts)
	})

	t.Run("mutating unknown job", func(t *testing.T) {
		store := newStore(t)
		unknown := uuid.New().String()

		for _, id := range []string{unknown, "not-a-uuid"} {
			assert.ErrorIs(t, store.CompleteWithResult(ctx, id, "worker-a", "tx", nil), domain.ErrJobNotFound)
			assert.ErrorIs(t, store.CompleteWithError(ctx, id, "worker-a", domain.ErrorDetail{}), domain.ErrJobNotFound)
			assert.ErrorIs(t, store.RequeueWithBackoff(ctx, id, "worker-a", 0, domain.ErrorDetail{}), domain.ErrJobNotFound)
			assert.ErrorIs(t, store.Heartbeat(ctx, id, "worker-a"), domain.ErrJobNotFound)
		}
	})

	t.Run("heartbeat requires an active claim", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)

		err = store.Heartbeat(ctx, jobID, "worker-a")
		assert.ErrorIs(t, err, domain.ErrClaimLost)

		_, err = store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)
		require.NoError(t, store.Heartbeat(ctx, jobID, "worker-a"))

		err = store.Heartbeat(ctx, jobID, "worker-b")
		assert.ErrorIs(t, err, domain.ErrClaimLost)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		require.NoError(t, store.CompleteWithResult(ctx, jobID, "worker-a", "tx-1", nil))
		err = store.Heartbeat(ctx, jobID, "worker-a")
		assert.ErrorIs(t, err, domain.ErrClaimLost)
	})

	t.Run("outcome from a recovered claim is rejected", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)

		recovered, err := store.RecoverStale(ctx, "worker-a", 0)
		require.NoError(t, err)
		require.Equal(t, []string{jobID}, recovered)

		reclaimed, err := store.ClaimNext(ctx, "worker-b")
		require.NoError(t, err)
		require.NotNil(t, reclaimed)
		require.Equal(t, jobID, reclaimed.JobID)

		detail := domain.ErrorDetail{Code: domain.CodeEndorsementConflict, Message: "mvcc read conflict"}
		writes := map[string]error{
			"complete":  store.CompleteWithResult(ctx, jobID, "worker-a", "tx-stale", []byte(`{}`)),
			"fail":      store.CompleteWithError(ctx, jobID, "worker-a", detail),
			"requeue":   store.RequeueWithBackoff(ctx, jobID, "worker-a", 0, detail),
			"heartbeat": store.Heartbeat(ctx, jobID, "worker-a"),
		}
		for name, err := range writes {
			assert.ErrorIs(t, err, domain.ErrInvalidTransition, name)
			assert.ErrorIs(t, err, domain.ErrClaimLost, name)
		}

		job, err := store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusActive, job.Status)
		assert.Equal(t, "worker-b", job.WorkerID)
		assert.Equal(t, 0, job.Attempts)
		assert.Empty(t, job.TxID)

		require.NoError(t, store.CompleteWithResult(ctx, jobID, "worker-b", "tx-1", nil))
		job, err = store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, "tx-1", job.TxID)
	})

	t.Run("recover jobs owned by restarted worker", func(t *testing.T) {
		store := newStore(t)

		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)
		require.NoError(t, store.RequeueWithBackoff(ctx, jobID, "worker-a", 0, domain.ErrorDetail{Code: domain.CodeOrderingTimeout}))
		_, err = store.ClaimNext(ctx, "worker-a")
		require.NoError(t, err)
		require.NoError(t, store.Heartbeat(ctx, jobID, "worker-a"))

		other, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "worker-b")
		require.NoError(t, err)

		recovered, err := store.RecoverStale(ctx, "worker-a", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []string{jobID}, recovered)

		job, err := store.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
		assert.Equal(t, 1, job.Attempts)

		stillActive, err := store.Get(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusActive, stillActive.Status)
	})

	t.Run("list pages newest first", func(t *testing.T) {
		store := newStore(t)

		var ids []string
		for i := 0; i < 5; i++ {
			id, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
			require.NoError(t, err)
			ids = append(ids, id)
		}
		_, err := store.Enqueue(ctx, "org2", "IssueCertificate", nil)
		require.NoError(t, err)

		firstPage, err := store.List(ctx, JobFilter{Identity: "org1", PageSize: 2})
		require.NoError(t, err)
		require.Len(t, firstPage, 3)

		last := firstPage[1]
		secondPage, err := store.List(ctx, JobFilter{
			Identity: "org1",
			PageSize: 2,
			Cursor:   &JobCursor{EnqueuedAt: last.EnqueuedAt, JobID: last.JobID},
		})
		require.NoError(t, err)
		require.Len(t, secondPage, 3)

		seen := map[string]bool{}
		for _, job := range append(firstPage[:2], secondPage[:2]...) {
			assert.Equal(t, "org1", job.Identity)
			assert.False(t, seen[job.JobID], "job %s listed twice", job.JobID)
			seen[job.JobID] = true
		}

		queued, err := store.List(ctx, JobFilter{Status: domain.JobStatusQueued, PageSize: MaxPageSize})
		require.NoError(t, err)
		assert.Len(t, queued, 6)
	})

	t.Run("concurrent claims never share a job", func(t *testing.T) {
		store := newStore(t)

		const jobCount = 20
		for i := 0; i < jobCount; i++ {
			_, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
			require.NoError(t, err)
		}

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			claimed = map[string]int{}
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := store.ClaimNext(ctx, "worker")
					if err != nil || job == nil {
						return
					}
					mu.Lock()
					claimed[job.JobID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, jobCount)
		for jobID, n := range claimed {
			assert.Equal(t, 1, n, "job %s claimed %d times", jobID, n)
		}
	})
}
