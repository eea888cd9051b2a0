package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/ledger"
	"github.com/ledgerlog/ledgerlog/pkg/merkle"
	"github.com/ledgerlog/ledgerlog/pkg/store"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*types.Record
	syncs   map[string]*types.SyncControl

	findErr error
	tagErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*types.Record),
		syncs:   make(map[string]*types.SyncControl),
	}
}

func (f *fakeStore) seed(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		r := &types.Record{
			ID:        fmt.Sprintf("r%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
			Source:    "api",
			Level:     types.LevelInfo,
			Message:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		r.Hash = merkle.HashRecord(r)
		f.records[r.ID] = r
		f.syncs[r.ID] = &types.SyncControl{RecordID: r.ID, Status: types.SyncPendingBatch}
	}
}

func (f *fakeStore) InsertRecord(ctx context.Context, r *types.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[r.ID] = r
	return nil
}

func (f *fakeStore) FindRecordByID(ctx context.Context, id string) (*types.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) FindRecords(ctx context.Context, filter store.RecordFilter, page store.Page) ([]*types.Record, error) {
	return nil, nil
}

func (f *fakeStore) CountRecords(ctx context.Context, filter store.RecordFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.records)), nil
}

func (f *fakeStore) FindUnbatched(ctx context.Context, limit int) ([]*types.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []*types.Record
	for _, r := range f.records {
		if r.BatchID == "" {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) FindByBatch(ctx context.Context, batchID string) ([]*types.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Record
	for _, r := range f.records {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) TagBatch(ctx context.Context, ids []string, batchID, merkleRoot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tagErr != nil {
		return f.tagErr
	}
	now := time.Now()
	for _, id := range ids {
		r := f.records[id]
		r.BatchID = batchID
		r.MerkleRoot = merkleRoot
		r.BatchedAt = &now
	}
	return nil
}

func (f *fakeStore) InsertSyncControl(ctx context.Context, s *types.SyncControl) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs[s.RecordID] = s
	return nil
}

func (f *fakeStore) UpsertSyncControl(ctx context.Context, s *types.SyncControl) error {
	return f.InsertSyncControl(ctx, s)
}

func (f *fakeStore) UpdateSyncStatus(ctx context.Context, recordID string, status types.SyncStatus, batchID, txID string) error {
	return f.UpdateSyncStatusBatch(ctx, []string{recordID}, status, batchID, txID)
}

func (f *fakeStore) UpdateSyncStatusBatch(ctx context.Context, recordIDs []string, status types.SyncStatus, batchID, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range recordIDs {
		s, ok := f.syncs[id]
		if !ok {
			return store.ErrNotFound
		}
		s.Status = status
		s.BatchID = batchID
		s.TxID = txID
	}
	return nil
}

func (f *fakeStore) AggregateSyncStats(ctx context.Context) (*types.SyncStats, error) {
	return &types.SyncStats{}, nil
}

func (f *fakeStore) AggregateBatches(ctx context.Context, page store.Page) ([]*types.BatchSummary, error) {
	return nil, nil
}

func (f *fakeStore) Ping(ctx context.Context) error  { return nil }
func (f *fakeStore) Close(ctx context.Context) error { return nil }

type failingLedger struct {
	err error
}

func (l *failingLedger) StoreBatch(ctx context.Context, b *types.MerkleBatch) (string, error) {
	return "", l.err
}

func (l *failingLedger) QueryBatch(ctx context.Context, id string) (*types.LedgerBatch, error) {
	return nil, ledger.ErrNotFound
}

func (l *failingLedger) HealthCheck(ctx context.Context) error { return l.err }
func (l *failingLedger) Close() error                          { return nil }

func testConfig() config.BatchingConfig {
	return config.BatchingConfig{
		Enabled:           true,
		AutoBatchSize:     100,
		AutoBatchInterval: time.Hour,
		WorkerCount:       2,
		MaxQueueDepth:     2,
	}
}

func TestRunBatchAnchorsAndMarksSynced(t *testing.T) {
	st := newFakeStore()
	st.seed(3)
	lc := ledger.NewMemoryClient()

	s := New(st, lc, nil, nil, testConfig(), time.Second)
	s.runBatch(Job{BatchSize: 100})

	r, err := st.FindRecordByID(context.Background(), "r0")
	require.NoError(t, err)
	require.NotEmpty(t, r.BatchID)
	assert.NotEmpty(t, r.MerkleRoot)

	got, err := lc.QueryBatch(context.Background(), r.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.NumRecords)
	assert.Equal(t, []string{"r0", "r1", "r2"}, got.RecordIDs)
	assert.Equal(t, r.MerkleRoot, got.MerkleRoot)

	for _, sc := range st.syncs {
		assert.Equal(t, types.SyncSynced, sc.Status)
		assert.NotEmpty(t, sc.TxID)
	}

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.TotalBatches)
	assert.Equal(t, uint64(3), stats.TotalRecords)
	assert.Equal(t, r.BatchID, stats.LastBatchID)
	assert.Equal(t, 3, stats.LastBatchSize)
}

func TestRunBatchHonorsBatchSize(t *testing.T) {
	st := newFakeStore()
	st.seed(5)

	s := New(st, ledger.NewMemoryClient(), nil, nil, testConfig(), time.Second)
	s.runBatch(Job{BatchSize: 2})

	unbatched, err := st.FindUnbatched(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, unbatched, 3)
	assert.Equal(t, 2, s.Stats().LastBatchSize)
}

func TestRunBatchNoRecordsIsNoOp(t *testing.T) {
	st := newFakeStore()

	s := New(st, ledger.NewMemoryClient(), nil, nil, testConfig(), time.Second)
	s.runBatch(Job{BatchSize: 100})

	stats := s.Stats()
	assert.Equal(t, uint64(0), stats.TotalBatches)
	assert.Equal(t, uint64(1), stats.NoOpRuns)
}

func TestRunBatchPartialTagSkipsAnchor(t *testing.T) {
	st := newFakeStore()
	st.seed(3)
	st.tagErr = store.ErrPartialTag
	lc := ledger.NewMemoryClient()

	s := New(st, lc, nil, nil, testConfig(), time.Second)
	s.runBatch(Job{BatchSize: 100})

	stats := s.Stats()
	assert.Equal(t, uint64(0), stats.TotalBatches)
	assert.Equal(t, uint64(1), stats.ProcessingErrors)

	// Nothing anchored, sync statuses untouched
	for _, sc := range st.syncs {
		assert.Equal(t, types.SyncPendingBatch, sc.Status)
	}
}

func TestRunBatchAnchorFailureLeavesPendingBatch(t *testing.T) {
	st := newFakeStore()
	st.seed(2)

	s := New(st, &failingLedger{err: errors.New("endorsement rejected")}, nil, nil, testConfig(), time.Second)
	s.runBatch(Job{BatchSize: 100})

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.TotalBatches)
	assert.Equal(t, uint64(1), stats.FailedBatches)

	// Records are tagged but never marked synced
	r, err := st.FindRecordByID(context.Background(), "r0")
	require.NoError(t, err)
	assert.NotEmpty(t, r.BatchID)
	for _, sc := range st.syncs {
		assert.Equal(t, types.SyncPendingBatch, sc.Status)
	}
}

func TestRunBatchWithoutLedgerLeavesPendingBatch(t *testing.T) {
	st := newFakeStore()
	st.seed(3)

	s := New(st, nil, nil, nil, testConfig(), time.Second)
	s.runBatch(Job{BatchSize: 100})

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.TotalBatches)
	assert.Equal(t, uint64(0), stats.FailedBatches)

	// Batch built and tagged, but with no ledger nothing is anchored
	// and no record is ever marked synced
	r, err := st.FindRecordByID(context.Background(), "r0")
	require.NoError(t, err)
	assert.NotEmpty(t, r.BatchID)
	assert.NotEmpty(t, r.MerkleRoot)
	for _, sc := range st.syncs {
		assert.Equal(t, types.SyncPendingBatch, sc.Status)
		assert.Empty(t, sc.TxID)
	}
}

func TestSubmitBackpressure(t *testing.T) {
	s := New(newFakeStore(), ledger.NewMemoryClient(), nil, nil, testConfig(), time.Second)

	// Queue depth is 2 and no workers are draining
	require.NoError(t, s.Submit(10))
	require.NoError(t, s.Submit(10))
	err := s.Submit(10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func TestSubmitAfterStop(t *testing.T) {
	st := newFakeStore()
	s := New(st, ledger.NewMemoryClient(), nil, nil, testConfig(), time.Second)

	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	err := s.Submit(10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}

func TestStartStopLifecycle(t *testing.T) {
	st := newFakeStore()
	st.seed(4)
	s := New(st, ledger.NewMemoryClient(), nil, nil, testConfig(), time.Second)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	assert.True(t, s.Stats().Running)

	require.NoError(t, s.Submit(100))
	assert.Eventually(t, func() bool {
		return s.Stats().TotalBatches == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Stats().Running)
	require.NoError(t, s.Stop(ctx))
}
