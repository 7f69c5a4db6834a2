// Package ledger talks to the permissioned ledger on behalf of one
// organization identity per Gateway.
package ledger

import "context"

// SubmitResult is the outcome of a committed transaction
type SubmitResult struct {
	TxID    string
	Payload []byte
}

// Gateway is the ledger capability of a single organization identity.
// Submit blocks until the transaction is committed or finally rejected and
// returns a *Error on failure.
type Gateway interface {
	Evaluate(ctx context.Context, function string, args []string) ([]byte, error)
	Submit(ctx context.Context, function string, args []string) (*SubmitResult, error)
}
