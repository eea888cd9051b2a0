package ledger

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/log"
	"github.com/ledgerlog/ledgerlog/pkg/metrics"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

// Chaincode function names
const (
	fnStoreBatch = "StoreMerkleRoot"
	fnQueryBatch = "QueryMerkleBatch"
)

// FabricClient anchors batches through the Fabric Gateway service
type FabricClient struct {
	conn     *grpc.ClientConn
	gateway  *client.Gateway
	contract *client.Contract
	logger   zerolog.Logger
}

// NewFabricClient builds the gRPC connection, the gateway identity and
// the contract handle. Per-invocation deadlines come from the configured
// invoke and query timeouts.
func NewFabricClient(cfg config.LedgerConfig) (*FabricClient, error) {
	creds, err := transportCredentials(cfg.TLSCertPath)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(cfg.URL, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway peer: %w", err)
	}

	id, sign, err := loadIdentity(cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	gw, err := client.Connect(id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(cfg.QueryTimeout),
		client.WithEndorseTimeout(cfg.InvokeTimeout),
		client.WithSubmitTimeout(cfg.InvokeTimeout),
		client.WithCommitStatusTimeout(cfg.InvokeTimeout),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect gateway: %w", err)
	}

	contract := gw.GetNetwork(cfg.Channel).GetContract(cfg.Contract)

	return &FabricClient{
		conn:     conn,
		gateway:  gw,
		contract: contract,
		logger:   log.WithComponent("ledger"),
	}, nil
}

// StoreBatch submits the batch to the chaincode and waits for commit
func (c *FabricClient) StoreBatch(ctx context.Context, batch *types.MerkleBatch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ids, err := json.Marshal(batch.RecordIDs)
	if err != nil {
		return "", fmt.Errorf("failed to encode record ids: %w", err)
	}

	start := time.Now()
	_, commit, err := c.contract.SubmitAsync(fnStoreBatch, client.WithArguments(
		batch.BatchID,
		batch.MerkleRoot,
		batch.Timestamp,
		strconv.Itoa(batch.NumRecords),
		string(ids),
	))
	if err != nil {
		metrics.LedgerInvokes.WithLabelValues(fnStoreBatch, "failure").Inc()
		return "", wrapLedgerErr("submit failed", err)
	}

	st, err := commit.Status()
	metrics.LedgerInvokeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LedgerInvokes.WithLabelValues(fnStoreBatch, "failure").Inc()
		return "", wrapLedgerErr("commit status failed", err)
	}
	if !st.Successful {
		metrics.LedgerInvokes.WithLabelValues(fnStoreBatch, "failure").Inc()
		return "", fmt.Errorf("transaction %s failed with validation code %d", st.TransactionID, int32(st.Code))
	}

	metrics.LedgerInvokes.WithLabelValues(fnStoreBatch, "success").Inc()
	c.logger.Info().
		Str("batch_id", batch.BatchID).
		Str("tx_id", st.TransactionID).
		Int("num_records", batch.NumRecords).
		Msg("Batch anchored on ledger")

	return st.TransactionID, nil
}

// QueryBatch evaluates the chaincode read for one batch
func (c *FabricClient) QueryBatch(ctx context.Context, batchID string) (*types.LedgerBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := c.contract.EvaluateTransaction(fnQueryBatch, batchID)
	metrics.LedgerInvokeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			metrics.LedgerInvokes.WithLabelValues(fnQueryBatch, "not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, batchID)
		}
		metrics.LedgerInvokes.WithLabelValues(fnQueryBatch, "failure").Inc()
		return nil, wrapLedgerErr("query failed", err)
	}

	var batch types.LedgerBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		metrics.LedgerInvokes.WithLabelValues(fnQueryBatch, "failure").Inc()
		return nil, fmt.Errorf("failed to decode ledger batch: %w", err)
	}

	metrics.LedgerInvokes.WithLabelValues(fnQueryBatch, "success").Inc()
	return &batch, nil
}

// HealthCheck reports the gRPC channel state
func (c *FabricClient) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch state := c.conn.GetState(); state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("%w: connection %s", ErrUnavailable, state)
	}
	return nil
}

// Close tears down the gateway and the underlying connection
func (c *FabricClient) Close() error {
	c.gateway.Close()
	return c.conn.Close()
}

func transportCredentials(tlsCertPath string) (credentials.TransportCredentials, error) {
	if tlsCertPath == "" {
		return insecure.NewCredentials(), nil
	}

	pem, err := os.ReadFile(tlsCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLS certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse TLS certificate %s", tlsCertPath)
	}
	return credentials.NewClientTLSFromCert(pool, ""), nil
}

func loadIdentity(cfg config.LedgerConfig) (*identity.X509Identity, identity.Sign, error) {
	certPEM, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read signing certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse signing certificate: %w", err)
	}
	id, err := identity.NewX509Identity(cfg.MSPID, cert)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build identity: %w", err)
	}

	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build signer: %w", err)
	}

	return id, sign, nil
}

func wrapLedgerErr(msg string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%s: %w: %w", msg, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
