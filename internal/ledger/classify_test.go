package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func endorseFailure(t *testing.T, peerMessage string) error {
	t.Helper()

	st, err := status.New(codes.Aborted, "failed to endorse transaction, see attached details for more info").
		WithDetails(&gateway.ErrorDetail{
			Address: "peer0.org1.example.com:7051",
			MspId:   "Org1MSP",
			Message: peerMessage,
		})
	require.NoError(t, err)
	return st.Err()
}

func TestClassifySubmitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "mvcc read conflict at commit",
			err:  &client.CommitError{TransactionID: "tx-1", Code: peer.TxValidationCode_MVCC_READ_CONFLICT},
			want: KindEndorsementConflict,
		},
		{
			name: "phantom read conflict at commit",
			err:  &client.CommitError{TransactionID: "tx-1", Code: peer.TxValidationCode_PHANTOM_READ_CONFLICT},
			want: KindEndorsementConflict,
		},
		{
			name: "endorsement policy failure at commit",
			err:  &client.CommitError{TransactionID: "tx-1", Code: peer.TxValidationCode_ENDORSEMENT_POLICY_FAILURE},
			want: KindChaincodeRejected,
		},
		{
			name: "peer unavailable",
			err:  status.Error(codes.Unavailable, "connection refused"),
			want: KindConnectivity,
		},
		{
			name: "deadline exceeded waiting for commit",
			err:  status.Error(codes.DeadlineExceeded, "context deadline exceeded"),
			want: KindOrderingTimeout,
		},
		{
			name: "wrapped context deadline",
			err:  fmt.Errorf("waiting for orderer: %w", context.DeadlineExceeded),
			want: KindOrderingTimeout,
		},
		{
			name: "endorsement payload mismatch",
			err:  status.Error(codes.Aborted, "ProposalResponsePayloads do not match"),
			want: KindEndorsementConflict,
		},
		{
			name: "conflict reported in peer detail",
			err:  endorseFailure(t, "MVCC_READ_CONFLICT on key cert-1"),
			want: KindEndorsementConflict,
		},
		{
			name: "chaincode rejects duplicate",
			err:  endorseFailure(t, "chaincode response 500, the certificate cert-1 already exists"),
			want: KindChaincodeRejected,
		},
		{
			name: "identity failure",
			err:  errors.New("x509: certificate signed by unknown authority"),
			want: KindConnectivity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifySubmitError(tt.err))
		})
	}
}

func TestClassifyEvaluateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "peer unavailable", err: status.Error(codes.Unavailable, "connection refused"), want: KindConnectivity},
		{name: "peer deadline", err: status.Error(codes.DeadlineExceeded, "context deadline exceeded"), want: KindConnectivity},
		{name: "wrapped context deadline", err: fmt.Errorf("evaluate: %w", context.DeadlineExceeded), want: KindConnectivity},
		{name: "chaincode error", err: endorseFailure(t, "chaincode response 500, certificate cert-9 does not exist"), want: KindQuery},
		{name: "unknown function", err: status.Error(codes.Unknown, "function ReadCert not found"), want: KindQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyEvaluateError(tt.err))
		})
	}

	t.Run("unavailable peer matches ErrConnectivity", func(t *testing.T) {
		cause := status.Error(codes.Unavailable, "connection refused")
		err := &Error{Kind: classifyEvaluateError(cause), Op: "evaluate", Function: "ReadCertificate", Err: cause}
		assert.ErrorIs(t, err, ErrConnectivity)
		assert.NotErrorIs(t, err, ErrLedgerQuery)
	})
}

func TestErrorMessage(t *testing.T) {
	t.Run("includes peer details", func(t *testing.T) {
		msg := errorMessage(endorseFailure(t, "chaincode response 500, the certificate cert-1 already exists"))
		assert.Contains(t, msg, "failed to endorse transaction")
		assert.Contains(t, msg, "Org1MSP@peer0.org1.example.com:7051")
		assert.Contains(t, msg, "already exists")
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, "boom", errorMessage(errors.New("boom")))
	})
}

func TestError(t *testing.T) {
	cause := errors.New("endorse failed")
	err := &Error{
		Kind:     KindEndorsementConflict,
		Op:       "submit",
		Function: "IssueCertificate",
		TxID:     "tx-1",
		Message:  "MVCC_READ_CONFLICT",
		Err:      cause,
	}

	assert.ErrorIs(t, err, ErrEndorsementConflict)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrChaincodeRejected)
	assert.True(t, err.Retryable())
	assert.Equal(t, "submit IssueCertificate: endorsement conflict (tx tx-1): MVCC_READ_CONFLICT", err.Error())

	var ledgerErr *Error
	wrapped := fmt.Errorf("failed to process job: %w", err)
	require.ErrorAs(t, wrapped, &ledgerErr)
	assert.Equal(t, KindEndorsementConflict, ledgerErr.Kind)

	assert.False(t, (&Error{Kind: KindChaincodeRejected}).Retryable())
	assert.False(t, (&Error{Kind: KindQuery}).Retryable())
	assert.True(t, (&Error{Kind: KindConnectivity}).Retryable())
	assert.True(t, (&Error{Kind: KindOrderingTimeout}).Retryable())
	assert.Equal(t, "CHAINCODE_REJECTED", KindChaincodeRejected.String())
}
