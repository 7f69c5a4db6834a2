package ledger

import (
	"errors"
	"fmt"
)

// Kind tags a ledger failure
type Kind int

const (
	KindQuery Kind = iota + 1
	KindEndorsementConflict
	KindOrderingTimeout
	KindChaincodeRejected
	KindConnectivity
)

var (
	// ErrLedgerQuery is returned when an evaluate call fails
	ErrLedgerQuery = errors.New("ledger query failed")

	// ErrEndorsementConflict is returned when endorsement or validation hit a read conflict
	ErrEndorsementConflict = errors.New("endorsement conflict")

	// ErrOrderingTimeout is returned when a transaction did not reach a decision in time
	ErrOrderingTimeout = errors.New("ordering timeout")

	// ErrChaincodeRejected is returned when the contract refused the transaction
	ErrChaincodeRejected = errors.New("chaincode rejected transaction")

	// ErrConnectivity is returned on transport or identity failures
	ErrConnectivity = errors.New("ledger connectivity error")

	// ErrUnknownOrganization is returned when no gateway is configured for an organization
	ErrUnknownOrganization = errors.New("unknown organization")
)

func (k Kind) sentinel() error {
	switch k {
	case KindQuery:
		return ErrLedgerQuery
	case KindEndorsementConflict:
		return ErrEndorsementConflict
	case KindOrderingTimeout:
		return ErrOrderingTimeout
	case KindChaincodeRejected:
		return ErrChaincodeRejected
	case KindConnectivity:
		return ErrConnectivity
	default:
		return nil
	}
}

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "LEDGER_QUERY_ERROR"
	case KindEndorsementConflict:
		return "ENDORSEMENT_CONFLICT"
	case KindOrderingTimeout:
		return "ORDERING_TIMEOUT"
	case KindChaincodeRejected:
		return "CHAINCODE_REJECTED"
	case KindConnectivity:
		return "CONNECTIVITY_ERROR"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a tagged ledger failure. Match it with errors.Is against the
// Err* sentinels or with errors.As to read the kind and message.
type Error struct {
	Kind     Kind
	Op       string
	Function string
	TxID     string
	// Message is the ledger-facing reason, safe to persist and show to clients
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Function, e.Kind.sentinel())
	if e.TxID != "" {
		msg += " (tx " + e.TxID + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether the failure is transient for submit
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindEndorsementConflict, KindOrderingTimeout, KindConnectivity:
		return true
	default:
		return false
	}
}
