package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ledgerlog/ledgerlog/pkg/types"
)

// MemoryClient keeps anchored batches in process memory. It is the
// fake side of scheduler and verifier tests. Anchoring the same batch
// id twice keeps the first entry and returns its transaction id,
// matching the idempotent re-anchor behavior of the chaincode.
type MemoryClient struct {
	mu      sync.Mutex
	batches map[string]*types.LedgerBatch
	txIDs   map[string]string
}

// NewMemoryClient returns an empty in-memory ledger
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		batches: make(map[string]*types.LedgerBatch),
		txIDs:   make(map[string]string),
	}
}

func (c *MemoryClient) StoreBatch(ctx context.Context, batch *types.MerkleBatch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if txID, ok := c.txIDs[batch.BatchID]; ok {
		return txID, nil
	}

	ids := make([]string, len(batch.RecordIDs))
	copy(ids, batch.RecordIDs)
	c.batches[batch.BatchID] = &types.LedgerBatch{
		BatchID:    batch.BatchID,
		MerkleRoot: batch.MerkleRoot,
		Timestamp:  batch.Timestamp,
		NumRecords: batch.NumRecords,
		RecordIDs:  ids,
	}
	txID := uuid.NewString()
	c.txIDs[batch.BatchID] = txID
	return txID, nil
}

func (c *MemoryClient) QueryBatch(ctx context.Context, batchID string) (*types.LedgerBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	batch, ok := c.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, batchID)
	}
	out := *batch
	return &out, nil
}

func (c *MemoryClient) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (c *MemoryClient) Close() error {
	return nil
}
