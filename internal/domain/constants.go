package domain

// JobStatus is the lifecycle state of a submission job
type JobStatus string

// Job status constants
const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusActive    JobStatus = "ACTIVE"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid reports whether s is one of the known job states
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusActive, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

func (s JobStatus) String() string {
	return string(s)
}

// Error codes persisted with a job outcome
const (
	CodeEndorsementConflict = "ENDORSEMENT_CONFLICT"
	CodeOrderingTimeout     = "ORDERING_TIMEOUT"
	CodeConnectivityError   = "CONNECTIVITY_ERROR"
	CodeChaincodeRejected   = "CHAINCODE_REJECTED"
	CodeUnknownIdentity     = "UNKNOWN_IDENTITY"
	CodeInternalError       = "INTERNAL_ERROR"
)
