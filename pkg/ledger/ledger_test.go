package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ledgerlog/ledgerlog/pkg/types"
)

func testBatch(id string) *types.MerkleBatch {
	return &types.MerkleBatch{
		BatchID:    id,
		MerkleRoot: "ab12",
		Timestamp:  "2026-08-24T10:00:00Z",
		NumRecords: 2,
		RecordIDs:  []string{"r1", "r2"},
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retriable bool
	}{
		{"nil", nil, false},
		{"unavailable sentinel", fmt.Errorf("submit failed: %w", ErrUnavailable), true},
		{"deadline", context.DeadlineExceeded, true},
		{"grpc unavailable", status.Error(codes.Unavailable, "peer down"), true},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "throttled"), true},
		{"grpc aborted", status.Error(codes.Aborted, "mvcc conflict"), true},
		{"endorsement rejection", status.Error(codes.InvalidArgument, "bad args"), false},
		{"not found", ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retriable, IsRetriable(tt.err))
		})
	}
}

func TestWrapLedgerErr(t *testing.T) {
	err := wrapLedgerErr("submit failed", status.Error(codes.Unavailable, "peer down"))
	assert.True(t, IsRetriable(err))

	err = wrapLedgerErr("submit failed", status.Error(codes.PermissionDenied, "not authorized"))
	assert.False(t, IsRetriable(err))
}

func TestMemoryClientStoreAndQuery(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	txID, err := c.StoreBatch(ctx, testBatch("b1"))
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	got, err := c.QueryBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.BatchID)
	assert.Equal(t, "ab12", got.MerkleRoot)
	assert.Equal(t, 2, got.NumRecords)
	assert.Equal(t, []string{"r1", "r2"}, got.RecordIDs)
}

func TestMemoryClientReanchorIsIdempotent(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	first, err := c.StoreBatch(ctx, testBatch("b1"))
	require.NoError(t, err)

	second, err := c.StoreBatch(ctx, testBatch("b1"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMemoryClientQueryMissing(t *testing.T) {
	c := NewMemoryClient()

	_, err := c.QueryBatch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryClientRejectsInvalidBatch(t *testing.T) {
	c := NewMemoryClient()

	_, err := c.StoreBatch(context.Background(), &types.MerkleBatch{BatchID: "b1"})
	assert.Error(t, err)
}
