package store

import (
	"context"
	"errors"

	"github.com/ledgerlog/ledgerlog/pkg/types"
)

// Sentinel errors forming the store error taxonomy. Callers classify
// with errors.Is; anything matching ErrUnavailable (or a driver
// timeout) is retriable.
var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate id")
	ErrPartialTag  = errors.New("batch tag modified fewer records than selected")
	ErrUnavailable = errors.New("store unavailable")
)

// RecordFilter selects records by equality on source and level.
// Zero values match everything.
type RecordFilter struct {
	Source string
	Level  types.Level
}

// Page bounds a list query
type Page struct {
	Limit  int64
	Offset int64
}

// Store is the interface to the durable record store. Every operation
// takes a context deadline; failures surface through the package
// sentinel errors.
type Store interface {
	// Records
	InsertRecord(ctx context.Context, r *types.Record) error
	FindRecordByID(ctx context.Context, id string) (*types.Record, error)
	FindRecords(ctx context.Context, filter RecordFilter, page Page) ([]*types.Record, error)
	CountRecords(ctx context.Context, filter RecordFilter) (int64, error)

	// Batching
	FindUnbatched(ctx context.Context, limit int) ([]*types.Record, error)
	FindByBatch(ctx context.Context, batchID string) ([]*types.Record, error)
	TagBatch(ctx context.Context, ids []string, batchID, merkleRoot string) error

	// Sync control. UpsertSyncControl creates the control when none
	// exists and leaves an existing one untouched, so replaying a WAL
	// entry never rewinds a control that already advanced past
	// pending_batch.
	InsertSyncControl(ctx context.Context, s *types.SyncControl) error
	UpsertSyncControl(ctx context.Context, s *types.SyncControl) error
	UpdateSyncStatus(ctx context.Context, recordID string, status types.SyncStatus, batchID, txID string) error
	UpdateSyncStatusBatch(ctx context.Context, recordIDs []string, status types.SyncStatus, batchID, txID string) error

	// Aggregations
	AggregateSyncStats(ctx context.Context) (*types.SyncStats, error)
	AggregateBatches(ctx context.Context, page Page) ([]*types.BatchSummary, error)

	// Utility
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
