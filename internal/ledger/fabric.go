package ledger

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/hash"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// FabricOptions configures every FabricGateway of a process
type FabricOptions struct {
	Channel             string
	Chaincode           string
	AsLocalhost         bool
	EvaluateTimeout     time.Duration
	EndorseTimeout      time.Duration
	SubmitTimeout       time.Duration
	CommitStatusTimeout time.Duration
	Logger              *slog.Logger
}

// FabricGateway implements Gateway over a Fabric Gateway peer connection
type FabricGateway struct {
	orgID    string
	conn     *grpc.ClientConn
	gateway  *client.Gateway
	contract *client.Contract
	logger   *slog.Logger
}

// NewFabricGateway connects id to its organization's gateway peer. The gRPC
// connection is established lazily on first use.
func NewFabricGateway(id *LedgerIdentity, opts FabricOptions) (*FabricGateway, error) {
	peer, err := id.Profile.GatewayPeer(id.MSPID, opts.AsLocalhost)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve gateway peer: %w", err)
	}

	conn, err := newGRPCConnection(peer)
	if err != nil {
		return nil, err
	}

	signer, sign, err := newSigner(id)
	if err != nil {
		conn.Close()
		return nil, err
	}

	gw, err := client.Connect(
		signer,
		client.WithSign(sign),
		client.WithHash(hash.SHA256),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(opts.EvaluateTimeout),
		client.WithEndorseTimeout(opts.EndorseTimeout),
		client.WithSubmitTimeout(opts.SubmitTimeout),
		client.WithCommitStatusTimeout(opts.CommitStatusTimeout),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect gateway: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("org_id", id.OrgID))

	logger.Info("Ledger gateway configured",
		slog.String("msp_id", id.MSPID),
		slog.String("peer", peer.Name),
		slog.String("address", peer.Address),
		slog.String("channel", opts.Channel),
		slog.String("chaincode", opts.Chaincode),
	)

	return &FabricGateway{
		orgID:    id.OrgID,
		conn:     conn,
		gateway:  gw,
		contract: gw.GetNetwork(opts.Channel).GetContract(opts.Chaincode),
		logger:   logger,
	}, nil
}

func newGRPCConnection(peer *PeerEndpoint) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if peer.Insecure {
		creds = insecure.NewCredentials()
	} else {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(peer.TLSCACert) {
			return nil, fmt.Errorf("failed to parse TLS CA certificate of peer %s", peer.Name)
		}
		creds = credentials.NewClientTLSFromCert(pool, peer.ServerName)
	}

	conn, err := grpc.NewClient(peer.Address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", peer.Address, err)
	}
	return conn, nil
}

func newSigner(id *LedgerIdentity) (*identity.X509Identity, identity.Sign, error) {
	cert, err := identity.CertificateFromPEM(id.Certificate)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	x509ID, err := identity.NewX509Identity(id.MSPID, cert)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create identity: %w", err)
	}

	key, err := identity.PrivateKeyFromPEM(id.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return x509ID, sign, nil
}

// Evaluate runs a read-only query against one peer
func (g *FabricGateway) Evaluate(ctx context.Context, function string, args []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindQuery, Op: "evaluate", Function: function, Err: err}
	}

	result, err := g.contract.EvaluateTransaction(function, args...)
	if err != nil {
		return nil, &Error{Kind: classifyEvaluateError(err), Op: "evaluate", Function: function, Message: errorMessage(err), Err: err}
	}

	return result, nil
}

// Submit endorses, orders and waits for the commit of a transaction. Once the
// proposal is endorsed the call is not interrupted by ctx; the configured
// submit and commit-status timeouts bound it instead.
func (g *FabricGateway) Submit(ctx context.Context, function string, args []string) (*SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindConnectivity, Op: "submit", Function: function, Err: err}
	}

	proposal, err := g.contract.NewProposal(function, client.WithArguments(args...))
	if err != nil {
		return nil, submitError(function, "", err)
	}
	txID := proposal.TransactionID()

	start := time.Now()
	transaction, err := proposal.Endorse()
	if err != nil {
		return nil, submitError(function, txID, err)
	}

	commit, err := transaction.Submit()
	if err != nil {
		return nil, submitError(function, txID, err)
	}

	status, err := commit.Status()
	if err != nil {
		return nil, submitError(function, txID, err)
	}

	if !status.Successful {
		return nil, &Error{
			Kind:     classifyValidationCode(status.Code),
			Op:       "submit",
			Function: function,
			TxID:     txID,
			Message:  fmt.Sprintf("transaction %s failed to commit with status code %d (%s)", txID, int32(status.Code), status.Code),
		}
	}

	g.logger.Debug("Transaction committed",
		slog.String("function", function),
		slog.String("tx_id", txID),
		slog.Uint64("block_number", status.BlockNumber),
		slog.Duration("duration", time.Since(start)),
	)

	return &SubmitResult{TxID: txID, Payload: transaction.Result()}, nil
}

// Close releases the gateway and its gRPC connection
func (g *FabricGateway) Close() error {
	if err := g.gateway.Close(); err != nil {
		g.logger.Warn("Failed to close gateway", slog.String("error", err.Error()))
	}
	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("failed to close gRPC connection for %s: %w", g.orgID, err)
	}
	return nil
}

func submitError(function, txID string, err error) error {
	return &Error{
		Kind:     classifySubmitError(err),
		Op:       "submit",
		Function: function,
		TxID:     txID,
		Message:  errorMessage(err),
		Err:      err,
	}
}
