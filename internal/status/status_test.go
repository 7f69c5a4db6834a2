package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/cuongbtq/certledger/internal/storage"
)

func TestService_Status(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store)

	conflict := domain.ErrorDetail{Code: domain.CodeEndorsementConflict, Message: "MVCC_READ_CONFLICT"}
	rejected := domain.ErrorDetail{Code: domain.CodeChaincodeRejected, Message: "certificate already exists"}

	enqueue := func(t *testing.T) string {
		t.Helper()
		jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", []string{"cert-1"})
		require.NoError(t, err)
		return jobID
	}
	claim := func(t *testing.T, jobID string) {
		t.Helper()
		job, err := store.ClaimNext(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, job)
		require.Equal(t, jobID, job.JobID)
	}

	t.Run("queued job", func(t *testing.T) {
		jobID := enqueue(t)

		p, err := svc.Status(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, jobID, p.JobID)
		assert.Equal(t, domain.JobStatusQueued, p.State)
		assert.Zero(t, p.Attempts)
		assert.Nil(t, p.Error)
		assert.Empty(t, p.TxID)
		assert.False(t, p.EnqueuedAt.IsZero())

		claim(t, jobID)
		require.NoError(t, store.CompleteWithError(ctx, jobID, "worker-1", rejected))
	})

	t.Run("retried job hides transient error", func(t *testing.T) {
		jobID := enqueue(t)
		claim(t, jobID)
		require.NoError(t, store.RequeueWithBackoff(ctx, jobID, "worker-1", 0, conflict))

		p, err := svc.Status(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, p.State)
		assert.Equal(t, 1, p.Attempts)
		assert.Nil(t, p.Error)

		claim(t, jobID)
		p, err = svc.Status(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusActive, p.State)
		assert.Nil(t, p.Error)

		require.NoError(t, store.CompleteWithResult(ctx, jobID, "worker-1", "tx-1", []byte(`{"id":"cert-1"}`)))
		p, err = svc.Status(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, p.State)
		assert.Equal(t, 1, p.Attempts)
		assert.Equal(t, "tx-1", p.TxID)
		assert.JSONEq(t, `{"id":"cert-1"}`, string(p.Payload))
		assert.Nil(t, p.Error)
	})

	t.Run("failed job exposes final error", func(t *testing.T) {
		jobID := enqueue(t)
		claim(t, jobID)
		require.NoError(t, store.CompleteWithError(ctx, jobID, "worker-1", rejected))

		p, err := svc.Status(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, p.State)
		assert.Equal(t, 1, p.Attempts)
		require.NotNil(t, p.Error)
		assert.Equal(t, rejected, *p.Error)
		assert.Empty(t, p.TxID)
		assert.Nil(t, p.Payload)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := svc.Status(ctx, "0b6f3d4e-8a7c-4c1e-9f3a-2d5b6c7e8f90")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestProject_CopiesPayload(t *testing.T) {
	now := time.Now()
	job := domain.NewSubmissionJob("job-1", "org1", "IssueCertificate", nil, now)
	require.NoError(t, job.Claim("worker-1", now))
	_, err := job.Complete("worker-1", "tx-1", []byte("payload"), now)
	require.NoError(t, err)

	p := Project(job)
	p.Payload[0] = 'X'
	assert.Equal(t, "payload", string(job.Payload))
}
