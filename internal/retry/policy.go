// Package retry decides what happens to a job after a failed submission.
package retry

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/cuongbtq/certledger/internal/ledger"
)

// Class separates transient failures from permanent ones
type Class int

const (
	ClassTerminal Class = iota
	ClassRetryable
)

func (c Class) String() string {
	if c == ClassRetryable {
		return "retryable"
	}
	return "terminal"
}

// Outcome is the classification of a submission error
type Outcome struct {
	Class   Class
	Code    string
	Message string
}

// Detail converts the outcome to the error detail persisted on the job
func (o Outcome) Detail() domain.ErrorDetail {
	return domain.ErrorDetail{Code: o.Code, Message: o.Message}
}

// Decision is what the worker does with a failed job
type Decision struct {
	Outcome Outcome
	// Retry is true when the job goes back to the queue
	Retry bool
	// Attempt is the attempt count the job will carry after this failure
	Attempt int
	// Delay before the job is eligible again, set only when Retry is true
	Delay time.Duration
}

// Policy configures retries of transient submission failures
type Policy struct {
	MaxAttempts             int
	BaseDelay               time.Duration
	Multiplier              float64
	MaxDelay                time.Duration
	Jitter                  time.Duration
	ConnectivityMaxAttempts int

	// RandomJitter returns a value in [0, max). Defaults to a uniform random source.
	RandomJitter func(max time.Duration) time.Duration
}

// DefaultPolicy returns the retry policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:             5,
		BaseDelay:               500 * time.Millisecond,
		Multiplier:              2,
		MaxDelay:                30 * time.Second,
		Jitter:                  250 * time.Millisecond,
		ConnectivityMaxAttempts: 3,
	}
}

// Classify maps any error from the ledger path to an Outcome
func Classify(err error) Outcome {
	var ledgerErr *ledger.Error
	if errors.As(err, &ledgerErr) {
		outcome := Outcome{Class: ClassTerminal, Message: ledgerErr.Message}
		if outcome.Message == "" {
			outcome.Message = ledgerErr.Error()
		}
		if ledgerErr.Retryable() {
			outcome.Class = ClassRetryable
		}

		switch ledgerErr.Kind {
		case ledger.KindEndorsementConflict:
			outcome.Code = domain.CodeEndorsementConflict
		case ledger.KindOrderingTimeout:
			outcome.Code = domain.CodeOrderingTimeout
		case ledger.KindConnectivity:
			outcome.Code = domain.CodeConnectivityError
		case ledger.KindChaincodeRejected:
			outcome.Code = domain.CodeChaincodeRejected
		default:
			outcome.Code = domain.CodeInternalError
		}
		return outcome
	}

	if errors.Is(err, ledger.ErrUnknownOrganization) {
		return Outcome{Class: ClassTerminal, Code: domain.CodeUnknownIdentity, Message: err.Error()}
	}

	return Outcome{Class: ClassTerminal, Code: domain.CodeInternalError, Message: err.Error()}
}

// Decide classifies err for a job that had attempts failures before this one
func (p Policy) Decide(attempts int, err error) Decision {
	outcome := Classify(err)
	attempt := attempts + 1

	decision := Decision{Outcome: outcome, Attempt: attempt}
	if outcome.Class == ClassRetryable && attempt < p.ceiling(outcome.Code) {
		decision.Retry = true
		decision.Delay = p.Backoff(attempt)
	}
	return decision
}

// ceiling is the attempt count at which a failure with code becomes final
func (p Policy) ceiling(code string) int {
	ceiling := p.MaxAttempts
	if code == domain.CodeConnectivityError && p.ConnectivityMaxAttempts > 0 && p.ConnectivityMaxAttempts < ceiling {
		ceiling = p.ConnectivityMaxAttempts
	}
	return ceiling
}

// Delay returns min(BaseDelay * Multiplier^attempt, MaxDelay) without jitter.
// It is non-decreasing in attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	d := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Backoff returns Delay(attempt) plus jitter, never exceeding MaxDelay
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter > 0 {
		d += p.randomJitter(p.Jitter)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) randomJitter(max time.Duration) time.Duration {
	if p.RandomJitter != nil {
		return p.RandomJitter(max)
	}
	return rand.N(max) //nolint:gosec // jitter does not need a cryptographic source
}
