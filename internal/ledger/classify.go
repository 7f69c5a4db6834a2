package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// conflictMarkers appear in endorsement failures caused by concurrent writes
var conflictMarkers = []string{
	"mvcc_read_conflict",
	"phantom_read_conflict",
	"proposalresponsepayloads do not match",
	"endorsement mismatch",
}

// classifyValidationCode maps a commit validation code to a failure kind
func classifyValidationCode(code peer.TxValidationCode) Kind {
	switch code {
	case peer.TxValidationCode_MVCC_READ_CONFLICT, peer.TxValidationCode_PHANTOM_READ_CONFLICT:
		return KindEndorsementConflict
	default:
		return KindChaincodeRejected
	}
}

// classifySubmitError maps an error from any submit phase to a failure kind
func classifySubmitError(err error) Kind {
	var commitErr *client.CommitError
	if errors.As(err, &commitErr) {
		return classifyValidationCode(commitErr.Code)
	}

	switch status.Code(err) {
	case codes.Unavailable:
		return KindConnectivity
	case codes.DeadlineExceeded:
		return KindOrderingTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOrderingTimeout
	}

	if hasConflictMarker(errorMessage(err)) {
		return KindEndorsementConflict
	}

	var endorseErr *client.EndorseError
	if errors.As(err, &endorseErr) || status.Code(err) == codes.Aborted {
		return KindChaincodeRejected
	}

	var submitErr *client.SubmitError
	var commitStatusErr *client.CommitStatusError
	if errors.As(err, &submitErr) || errors.As(err, &commitStatusErr) {
		return KindOrderingTimeout
	}

	return KindConnectivity
}

// classifyEvaluateError maps a failed query to a failure kind. Only an
// unreachable peer is a connectivity failure; anything else is a query error.
func classifyEvaluateError(err error) Kind {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return KindConnectivity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnectivity
	}
	return KindQuery
}

func hasConflictMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// errorMessage extracts the gateway message and per-peer details of err
func errorMessage(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return err.Error()
	}

	parts := []string{st.Message()}
	for _, detail := range st.Details() {
		if d, ok := detail.(*gateway.ErrorDetail); ok {
			parts = append(parts, d.GetMspId()+"@"+d.GetAddress()+": "+d.GetMessage())
		}
	}
	return strings.Join(parts, "; ")
}
