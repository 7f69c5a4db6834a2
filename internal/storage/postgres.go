package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	job_id, identity, function_name, args, status, attempts,
	last_error_code, last_error_message, tx_id, result_payload, worker_id,
	available_at, enqueued_at, updated_at, last_heartbeat_at`

// jobRow is the submission_jobs row layout
type jobRow struct {
	JobID            string     `db:"job_id"`
	Identity         string     `db:"identity"`
	Function         string     `db:"function_name"`
	Args             []byte     `db:"args"`
	Status           string     `db:"status"`
	Attempts         int        `db:"attempts"`
	LastErrorCode    string     `db:"last_error_code"`
	LastErrorMessage string     `db:"last_error_message"`
	TxID             string     `db:"tx_id"`
	Payload          []byte     `db:"result_payload"`
	WorkerID         string     `db:"worker_id"`
	AvailableAt      time.Time  `db:"available_at"`
	EnqueuedAt       time.Time  `db:"enqueued_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
	LastHeartbeatAt  *time.Time `db:"last_heartbeat_at"`
}

func (r *jobRow) toDomain() (*domain.SubmissionJob, error) {
	var args []string
	if len(r.Args) > 0 {
		if err := json.Unmarshal(r.Args, &args); err != nil {
			return nil, fmt.Errorf("failed to decode args of job %s: %w", r.JobID, err)
		}
	}

	return &domain.SubmissionJob{
		JobID:           r.JobID,
		Identity:        r.Identity,
		Function:        r.Function,
		Args:            args,
		Status:          domain.JobStatus(r.Status),
		Attempts:        r.Attempts,
		LastError:       domain.ErrorDetail{Code: r.LastErrorCode, Message: r.LastErrorMessage},
		TxID:            r.TxID,
		Payload:         r.Payload,
		WorkerID:        r.WorkerID,
		AvailableAt:     r.AvailableAt,
		EnqueuedAt:      r.EnqueuedAt,
		UpdatedAt:       r.UpdatedAt,
		LastHeartbeatAt: r.LastHeartbeatAt,
	}, nil
}

// PostgresStore is the durable job store backed by the submission_jobs table
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	opts   options
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger, opts ...Option) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
		opts:   newOptions(opts),
	}
}

// Enqueue persists a new queued job and returns its id
func (s *PostgresStore) Enqueue(ctx context.Context, identity, function string, args []string) (string, error) {
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode args: %w", err)
	}

	jobID := uuid.New().String()
	query := `
		INSERT INTO submission_jobs (
			job_id, identity, function_name, args, status, attempts,
			available_at, enqueued_at, updated_at
		) VALUES (
			$1, $2, $3, $4::jsonb, $5, 0,
			NOW(), NOW(), NOW()
		)
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, identity, function, string(argsJSON), domain.JobStatusQueued); err != nil {
		return "", wrapDBError("enqueue job", err)
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.String("identity", identity),
		slog.String("function", function),
	)

	return jobID, nil
}

// ClaimNext atomically moves the oldest eligible queued job to ACTIVE.
// It returns nil, nil when no job is eligible.
func (s *PostgresStore) ClaimNext(ctx context.Context, workerID string) (*domain.SubmissionJob, error) {
	query := `
		UPDATE submission_jobs
		SET status = $1,
		    worker_id = $2,
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM submission_jobs
			WHERE status = $3
			  AND available_at <= NOW() + make_interval(secs => $4::double precision)
			ORDER BY available_at ASC, enqueued_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		domain.JobStatusActive, workerID, domain.JobStatusQueued, s.opts.clockSkew.Seconds())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError("claim job", err)
	}

	job, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Job claimed",
		slog.String("job_id", job.JobID),
		slog.String("worker_id", workerID),
		slog.Int("attempts", job.Attempts),
	)

	return job, nil
}

// CompleteWithResult marks an active job held by workerID COMPLETED with the ledger result
func (s *PostgresStore) CompleteWithResult(ctx context.Context, jobID, workerID, txID string, payload []byte) error {
	return s.mutate(ctx, jobID, "complete job", func(job *domain.SubmissionJob, now time.Time) (bool, error) {
		return job.Complete(workerID, txID, payload, now)
	})
}

// CompleteWithError marks an active job held by workerID FAILED with its final classified error
func (s *PostgresStore) CompleteWithError(ctx context.Context, jobID, workerID string, detail domain.ErrorDetail) error {
	return s.mutate(ctx, jobID, "fail job", func(job *domain.SubmissionJob, now time.Time) (bool, error) {
		return job.Fail(workerID, detail, now)
	})
}

// RequeueWithBackoff returns an active job to the queue, eligible after delay
func (s *PostgresStore) RequeueWithBackoff(ctx context.Context, jobID, workerID string, delay time.Duration, detail domain.ErrorDetail) error {
	return s.mutate(ctx, jobID, "requeue job", func(job *domain.SubmissionJob, now time.Time) (bool, error) {
		if err := job.Requeue(workerID, detail, now.Add(delay), now); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Get retrieves a job by its id
func (s *PostgresStore) Get(ctx context.Context, jobID string) (*domain.SubmissionJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, domain.ErrJobNotFound)
	}

	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT`+jobColumns+` FROM submission_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to get job %s: %w", jobID, domain.ErrJobNotFound)
		}
		return nil, wrapDBError("get job", err)
	}

	return row.toDomain()
}

// Heartbeat refreshes the liveness timestamp of an active job held by workerID.
// It fails with domain.ErrClaimLost once the job was recovered, finished or
// claimed by another worker.
func (s *PostgresStore) Heartbeat(ctx context.Context, jobID, workerID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("failed to update job heartbeat %s: %w", jobID, domain.ErrJobNotFound)
	}

	query := `
		UPDATE submission_jobs
		SET last_heartbeat_at = NOW()
		WHERE job_id = $1 AND status = $2 AND worker_id = $3
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusActive, workerID)
	if err != nil {
		return wrapDBError("update job heartbeat", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM submission_jobs WHERE job_id = $1)`, jobID); err != nil {
		return wrapDBError("update job heartbeat", err)
	}
	if !exists {
		return fmt.Errorf("failed to update job heartbeat %s: %w", jobID, domain.ErrJobNotFound)
	}
	return fmt.Errorf("failed to update job heartbeat %s: %w", jobID, domain.ErrClaimLost)
}

// RecoverStale requeues active jobs owned by ownerID, or whose heartbeat is
// older than olderThan. Attempt counts are preserved.
func (s *PostgresStore) RecoverStale(ctx context.Context, ownerID string, olderThan time.Duration) ([]string, error) {
	query := `
		UPDATE submission_jobs
		SET status = $1,
		    worker_id = '',
		    last_heartbeat_at = NULL,
		    available_at = NOW(),
		    updated_at = NOW()
		WHERE status = $2
		  AND (
		    ($3::text <> '' AND worker_id = $3::text)
		    OR ($4::double precision > 0
		        AND COALESCE(last_heartbeat_at, updated_at) < NOW() - make_interval(secs => $4::double precision))
		  )
		RETURNING job_id
	`

	var jobIDs []string
	err := s.db.SelectContext(ctx, &jobIDs, query,
		domain.JobStatusQueued, domain.JobStatusActive, ownerID, olderThan.Seconds())
	if err != nil {
		return nil, wrapDBError("recover stale jobs", err)
	}

	if len(jobIDs) > 0 {
		s.logger.Warn("Recovered orphaned jobs",
			slog.Int("count", len(jobIDs)),
			slog.String("owner_id", ownerID),
		)
	}

	return jobIDs, nil
}

// List returns jobs newest first using keyset pagination. One extra row is
// fetched so callers can tell whether another page exists.
func (s *PostgresStore) List(ctx context.Context, filter JobFilter) ([]*domain.SubmissionJob, error) {
	query := `SELECT` + jobColumns + ` FROM submission_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Identity != "" {
		query += fmt.Sprintf(" AND identity = $%d", argIdx)
		args = append(args, filter.Identity)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (enqueued_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.EnqueuedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY enqueued_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.limit()+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapDBError("list jobs", err)
	}

	jobs := make([]*domain.SubmissionJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Ping checks that the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapDBError("ping database", err)
	}
	return nil
}

// mutate locks the job row, applies fn with the database clock, and writes
// the result back when fn reports a change
func (s *PostgresStore) mutate(ctx context.Context, jobID, op string, fn func(*domain.SubmissionJob, time.Time) (bool, error)) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, jobID, domain.ErrJobNotFound)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapDBError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var locked struct {
		jobRow
		DBNow time.Time `db:"db_now"`
	}
	query := `SELECT` + jobColumns + `, NOW() AS db_now FROM submission_jobs WHERE job_id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &locked, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to %s %s: %w", op, jobID, domain.ErrJobNotFound)
		}
		return wrapDBError(op, err)
	}

	job, err := locked.toDomain()
	if err != nil {
		return err
	}

	changed, err := fn(job, locked.DBNow)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if !changed {
		return nil
	}

	update := `
		UPDATE submission_jobs
		SET status = $1,
		    attempts = $2,
		    last_error_code = $3,
		    last_error_message = $4,
		    tx_id = $5,
		    result_payload = $6,
		    worker_id = $7,
		    available_at = $8,
		    updated_at = $9,
		    last_heartbeat_at = $10
		WHERE job_id = $11
	`
	_, err = tx.ExecContext(ctx, update,
		job.Status,
		job.Attempts,
		job.LastError.Code,
		job.LastError.Message,
		job.TxID,
		job.Payload,
		job.WorkerID,
		job.AvailableAt,
		job.UpdatedAt,
		job.LastHeartbeatAt,
		job.JobID,
	)
	if err != nil {
		return wrapDBError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit transaction", err)
	}

	s.logger.Debug("Job updated",
		slog.String("job_id", job.JobID),
		slog.String("status", job.Status.String()),
		slog.Int("attempts", job.Attempts),
	)

	return nil
}
