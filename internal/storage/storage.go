// Package storage persists submission jobs. PostgresStore is the durable
// implementation; MemoryStore offers the same contract in-process.
package storage

import (
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
)

const (
	// DefaultPageSize is used when a list request does not specify one
	DefaultPageSize = 20
	// MaxPageSize bounds a single list request
	MaxPageSize = 100
)

// JobFilter narrows a List call
type JobFilter struct {
	Identity string
	Status   domain.JobStatus
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last job of the previous page
type JobCursor struct {
	EnqueuedAt time.Time
	JobID      string
}

func (f JobFilter) limit() int {
	switch {
	case f.PageSize <= 0:
		return DefaultPageSize
	case f.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return f.PageSize
	}
}

type options struct {
	clockSkew time.Duration
	now       func() time.Time
}

// Option configures a store
type Option func(*options)

// WithClockSkewTolerance lets a queued job be claimed up to d before its
// available_at, absorbing clock drift between processes.
func WithClockSkewTolerance(d time.Duration) Option {
	return func(o *options) {
		o.clockSkew = d
	}
}

// WithClock overrides the time source of a MemoryStore. PostgresStore always
// uses the database server clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
