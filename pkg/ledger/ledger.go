package ledger

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ledgerlog/ledgerlog/pkg/types"
)

var (
	// ErrNotFound is returned when the ledger has no batch under the
	// requested id
	ErrNotFound = errors.New("batch not found on ledger")

	// ErrUnavailable marks transient transport failures; callers may
	// retry the same batch id, anchoring is idempotent per id
	ErrUnavailable = errors.New("ledger unavailable")
)

// Client anchors Merkle batches on the external permissioned ledger and
// reads them back for cross-verification.
type Client interface {
	// StoreBatch anchors the batch and returns the ledger transaction id.
	// Re-anchoring an already stored batch id succeeds.
	StoreBatch(ctx context.Context, batch *types.MerkleBatch) (string, error)

	// QueryBatch returns the batch as recorded on the ledger
	QueryBatch(ctx context.Context, batchID string) (*types.LedgerBatch, error)

	// HealthCheck reports whether the ledger connection is usable
	HealthCheck(ctx context.Context) error

	Close() error
}

// IsRetriable reports whether the anchoring attempt may be repeated with
// the same batch id. Transport and deadline failures are retriable;
// endorsement rejections are not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}
