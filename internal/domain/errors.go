package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrStoreUnavailable is returned when the job store cannot be reached
	ErrStoreUnavailable = errors.New("job store unavailable")

	// ErrInvalidTransition is returned when a state change is not allowed from the job's current state
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrClaimLost is returned when a worker writes to a job it no longer holds.
	// It wraps ErrInvalidTransition.
	ErrClaimLost = fmt.Errorf("%w: claim not held by worker", ErrInvalidTransition)
)
