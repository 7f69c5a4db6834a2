package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) jobStore {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ClaimOrder(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))

	first, err := store.Enqueue(ctx, "org1", "IssueCertificate", []string{"a"})
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	second, err := store.Enqueue(ctx, "org1", "IssueCertificate", []string{"b"})
	require.NoError(t, err)

	job, err := store.ClaimNext(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.JobID)

	// A retried job goes behind jobs that became eligible earlier.
	clock.Advance(time.Millisecond)
	require.NoError(t, store.RequeueWithBackoff(ctx, first, "worker-a", 0, domain.ErrorDetail{Code: domain.CodeEndorsementConflict}))
	job, err = store.ClaimNext(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, second, job.JobID)
}

func TestMemoryStore_BackoffEligibility(t *testing.T) {
	tests := []struct {
		name      string
		skew      time.Duration
		advance   time.Duration
		wantClaim bool
	}{
		{name: "before delay elapses", advance: 199 * time.Millisecond, wantClaim: false},
		{name: "exactly at delay", advance: 200 * time.Millisecond, wantClaim: true},
		{name: "after delay", advance: time.Second, wantClaim: true},
		{name: "within skew tolerance", skew: 50 * time.Millisecond, advance: 160 * time.Millisecond, wantClaim: true},
		{name: "beyond skew tolerance", skew: 50 * time.Millisecond, advance: 100 * time.Millisecond, wantClaim: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			store := NewMemoryStore(WithClock(clock.Now), WithClockSkewTolerance(tt.skew))

			jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
			require.NoError(t, err)
			_, err = store.ClaimNext(ctx, "worker-a")
			require.NoError(t, err)
			require.NoError(t, store.RequeueWithBackoff(ctx, jobID, "worker-a", 200*time.Millisecond, domain.ErrorDetail{Code: domain.CodeEndorsementConflict}))

			clock.Advance(tt.advance)
			job, err := store.ClaimNext(ctx, "worker-a")
			require.NoError(t, err)
			if tt.wantClaim {
				require.NotNil(t, job)
				assert.Equal(t, jobID, job.JobID)
			} else {
				assert.Nil(t, job)
			}
		})
	}
}

func TestMemoryStore_RecoverStaleByHeartbeat(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))

	stale, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	fresh, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
	require.NoError(t, err)

	_, err = store.ClaimNext(ctx, "worker-dead")
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, "worker-live")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	require.NoError(t, store.Heartbeat(ctx, fresh, "worker-live"))

	recovered, err := store.RecoverStale(ctx, "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, recovered)

	job, err := store.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusActive, job.Status)
}

func TestMemoryStore_ReapedClaimCannotComplete(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))

	jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", nil)
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, "worker-a")
	require.NoError(t, err)

	// worker-a stalls past the stale threshold and the reaper hands its job to worker-b
	clock.Advance(10 * time.Minute)
	recovered, err := store.RecoverStale(ctx, "", time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{jobID}, recovered)
	_, err = store.ClaimNext(ctx, "worker-b")
	require.NoError(t, err)

	err = store.CompleteWithResult(ctx, jobID, "worker-a", "tx-late", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	job, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusActive, job.Status)
	assert.Equal(t, "worker-b", job.WorkerID)
	assert.Equal(t, clock.Now(), *job.LastHeartbeatAt)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	jobID, err := store.Enqueue(ctx, "org1", "IssueCertificate", []string{"a"})
	require.NoError(t, err)

	job, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	job.Args[0] = "mutated"
	job.Status = domain.JobStatusFailed

	again, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Args[0])
	assert.Equal(t, domain.JobStatusQueued, again.Status)
}

func TestJobFilter_Limit(t *testing.T) {
	tests := []struct {
		name     string
		pageSize int
		want     int
	}{
		{name: "default", pageSize: 0, want: DefaultPageSize},
		{name: "negative", pageSize: -5, want: DefaultPageSize},
		{name: "within range", pageSize: 10, want: 10},
		{name: "capped", pageSize: 1000, want: MaxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JobFilter{PageSize: tt.pageSize}.limit())
		})
	}
}
