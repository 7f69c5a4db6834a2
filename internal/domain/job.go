package domain

import (
	"bytes"
	"fmt"
	"slices"
	"time"
)

// ErrorDetail is the classified failure recorded on a job
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsZero reports whether no error has been recorded
func (d ErrorDetail) IsZero() bool {
	return d.Code == "" && d.Message == ""
}

// SubmissionJob is a durable request to submit one ledger transaction
type SubmissionJob struct {
	JobID           string
	Identity        string
	Function        string
	Args            []string
	Status          JobStatus
	Attempts        int
	LastError       ErrorDetail
	TxID            string
	Payload         []byte
	WorkerID        string
	AvailableAt     time.Time
	EnqueuedAt      time.Time
	UpdatedAt       time.Time
	LastHeartbeatAt *time.Time
}

// NewSubmissionJob builds a queued job that is eligible immediately
func NewSubmissionJob(jobID, identity, function string, args []string, now time.Time) *SubmissionJob {
	return &SubmissionJob{
		JobID:       jobID,
		Identity:    identity,
		Function:    function,
		Args:        slices.Clone(args),
		Status:      JobStatusQueued,
		AvailableAt: now,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of the job
func (j *SubmissionJob) Clone() *SubmissionJob {
	c := *j
	c.Args = slices.Clone(j.Args)
	c.Payload = bytes.Clone(j.Payload)
	if j.LastHeartbeatAt != nil {
		hb := *j.LastHeartbeatAt
		c.LastHeartbeatAt = &hb
	}
	return &c
}

// EligibleAt reports whether a queued job may be claimed at now.
// tolerance absorbs clock skew between the writer of AvailableAt and the reader.
func (j *SubmissionJob) EligibleAt(now time.Time, tolerance time.Duration) bool {
	return j.Status == JobStatusQueued && !j.AvailableAt.After(now.Add(tolerance))
}

// Claim moves a queued job to active on behalf of workerID
func (j *SubmissionJob) Claim(workerID string, now time.Time) error {
	if err := j.transition(JobStatusActive); err != nil {
		return err
	}
	j.WorkerID = workerID
	j.LastHeartbeatAt = &now
	j.UpdatedAt = now
	return nil
}

// Heartbeat refreshes the liveness timestamp of an active job held by workerID
func (j *SubmissionJob) Heartbeat(workerID string, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", j.JobID, j.Status, ErrClaimLost)
	}
	if err := j.checkOwner(workerID); err != nil {
		return err
	}
	j.LastHeartbeatAt = &now
	return nil
}

// Complete records the ledger result. It returns false without error when the
// job already completed with the same transaction id and payload.
func (j *SubmissionJob) Complete(workerID, txID string, payload []byte, now time.Time) (bool, error) {
	if j.Status == JobStatusCompleted && j.TxID == txID && bytes.Equal(j.Payload, payload) {
		return false, nil
	}
	if err := j.checkOwner(workerID); err != nil {
		return false, err
	}
	if err := j.transition(JobStatusCompleted); err != nil {
		return false, err
	}
	j.TxID = txID
	j.Payload = bytes.Clone(payload)
	j.release(now)
	return true, nil
}

// Fail records the final failed attempt. It returns false without error when the
// job already failed with the same detail.
func (j *SubmissionJob) Fail(workerID string, detail ErrorDetail, now time.Time) (bool, error) {
	if j.Status == JobStatusFailed && j.LastError == detail {
		return false, nil
	}
	if err := j.checkOwner(workerID); err != nil {
		return false, err
	}
	if err := j.transition(JobStatusFailed); err != nil {
		return false, err
	}
	j.Attempts++
	j.LastError = detail
	j.release(now)
	return true, nil
}

// Requeue returns an active job to the queue after a failed attempt
func (j *SubmissionJob) Requeue(workerID string, detail ErrorDetail, availableAt, now time.Time) error {
	if err := j.checkOwner(workerID); err != nil {
		return err
	}
	if err := j.transition(JobStatusQueued); err != nil {
		return err
	}
	j.Attempts++
	j.LastError = detail
	j.AvailableAt = availableAt
	j.release(now)
	return nil
}

// Recover returns an orphaned active job to the queue without counting an attempt
func (j *SubmissionJob) Recover(now time.Time) error {
	if err := j.transition(JobStatusQueued); err != nil {
		return err
	}
	j.AvailableAt = now
	j.release(now)
	return nil
}

// checkOwner rejects writes to a non-terminal job from any worker but its
// claimant. A queued job has no claimant.
func (j *SubmissionJob) checkOwner(workerID string) error {
	switch {
	case j.Status == JobStatusQueued:
		return fmt.Errorf("job %s is %s: %w", j.JobID, j.Status, ErrClaimLost)
	case j.Status == JobStatusActive && j.WorkerID != workerID:
		return fmt.Errorf("job %s held by %q, not %q: %w", j.JobID, j.WorkerID, workerID, ErrClaimLost)
	}
	return nil
}

func (j *SubmissionJob) release(now time.Time) {
	j.WorkerID = ""
	j.LastHeartbeatAt = nil
	j.UpdatedAt = now
}

func (j *SubmissionJob) transition(to JobStatus) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return fmt.Errorf("job %s: %w", j.JobID, err)
	}
	j.Status = to
	return nil
}

// ValidateTransition checks a state change against the job lifecycle:
// QUEUED -> ACTIVE -> {COMPLETED | FAILED}, and ACTIVE -> QUEUED for retries.
func ValidateTransition(from, to JobStatus) error {
	switch {
	case from == JobStatusQueued && to == JobStatusActive:
		return nil
	case from == JobStatusActive && (to == JobStatusQueued || to == JobStatusCompleted || to == JobStatusFailed):
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
}
