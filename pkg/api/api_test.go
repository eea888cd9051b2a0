package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/merkle"
	"github.com/ledgerlog/ledgerlog/pkg/scheduler"
	"github.com/ledgerlog/ledgerlog/pkg/store"
	"github.com/ledgerlog/ledgerlog/pkg/types"
	"github.com/ledgerlog/ledgerlog/pkg/wal"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*types.Record
	syncs   map[string]*types.SyncControl

	insertErr error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]*types.Record),
		syncs:   make(map[string]*types.SyncControl),
	}
}

func (m *memStore) InsertRecord(ctx context.Context, r *types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.records[r.ID]; ok {
		return store.ErrDuplicateID
	}
	m.records[r.ID] = r
	return nil
}

func (m *memStore) FindRecordByID(ctx context.Context, id string) (*types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) FindRecords(ctx context.Context, filter store.RecordFilter, page store.Page) ([]*types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Record
	for _, r := range m.records {
		if filter.Source != "" && r.Source != filter.Source {
			continue
		}
		if filter.Level != "" && r.Level != filter.Level {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if page.Offset > 0 {
		if page.Offset >= int64(len(out)) {
			return nil, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && int64(len(out)) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (m *memStore) CountRecords(ctx context.Context, filter store.RecordFilter) (int64, error) {
	records, err := m.FindRecords(ctx, filter, store.Page{})
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

func (m *memStore) FindUnbatched(ctx context.Context, limit int) ([]*types.Record, error) {
	return nil, nil
}

func (m *memStore) FindByBatch(ctx context.Context, batchID string) ([]*types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Record
	for _, r := range m.records {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) TagBatch(ctx context.Context, ids []string, batchID, merkleRoot string) error {
	return nil
}

func (m *memStore) InsertSyncControl(ctx context.Context, s *types.SyncControl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs[s.RecordID] = s
	return nil
}

func (m *memStore) UpsertSyncControl(ctx context.Context, s *types.SyncControl) error {
	return m.InsertSyncControl(ctx, s)
}

func (m *memStore) UpdateSyncStatus(ctx context.Context, recordID string, status types.SyncStatus, batchID, txID string) error {
	return nil
}

func (m *memStore) UpdateSyncStatusBatch(ctx context.Context, recordIDs []string, status types.SyncStatus, batchID, txID string) error {
	return nil
}

func (m *memStore) AggregateSyncStats(ctx context.Context) (*types.SyncStats, error) {
	return &types.SyncStats{}, nil
}

func (m *memStore) AggregateBatches(ctx context.Context, page store.Page) ([]*types.BatchSummary, error) {
	return nil, nil
}

func (m *memStore) Ping(ctx context.Context) error  { return nil }
func (m *memStore) Close(ctx context.Context) error { return nil }

type fakeScheduler struct {
	mu        sync.Mutex
	capacity  int
	submitted []int
	stats     scheduler.Stats
}

func (f *fakeScheduler) Submit(batchSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitted) >= f.capacity {
		return fmt.Errorf("job queue full (%d)", f.capacity)
	}
	f.submitted = append(f.submitted, batchSize)
	return nil
}

func (f *fakeScheduler) Stats() scheduler.Stats { return f.stats }

type fakeVerifier struct {
	report *types.VerificationReport
	err    error
}

func (f *fakeVerifier) VerifyBatch(ctx context.Context, batchID string) (*types.VerificationReport, error) {
	return f.report, f.err
}

type fakeWAL struct {
	mu       sync.Mutex
	appended []*types.Record
	err      error
}

func (f *fakeWAL) Append(r *types.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, r)
	return nil
}

func (f *fakeWAL) ForceProcess() error { return nil }
func (f *fakeWAL) Stats() wal.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return wal.Stats{PendingCount: int64(len(f.appended))}
}

func testServer(deps Deps) *Server {
	if deps.Scheduler == nil {
		deps.Scheduler = &fakeScheduler{capacity: 100}
	}
	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, deps)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIngestHappyPath(t *testing.T) {
	st := newMemStore()
	w := &fakeWAL{}
	s := testServer(Deps{Store: st, WAL: w})

	rec := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"source":  "auth-service",
		"level":   "INFO",
		"message": "login ok",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	require.NotEmpty(t, body["id"])
	require.NotEmpty(t, body["hash"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	stored, err := st.FindRecordByID(context.Background(), body["id"])
	require.NoError(t, err)
	assert.Equal(t, body["hash"], stored.Hash)
	assert.Equal(t, stored.Hash, merkle.HashRecord(stored))
	assert.NotEmpty(t, stored.Timestamp)

	sc, ok := st.syncs[body["id"]]
	require.True(t, ok)
	assert.Equal(t, types.SyncPendingBatch, sc.Status)

	w.mu.Lock()
	assert.Len(t, w.appended, 1)
	w.mu.Unlock()
}

func TestIngestValidation(t *testing.T) {
	s := testServer(Deps{Store: newMemStore()})

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing source", map[string]string{"level": "INFO", "message": "m"}},
		{"missing message", map[string]string{"source": "s", "level": "INFO"}},
		{"bad level", map[string]string{"source": "s", "level": "TRACE", "message": "m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/logs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			body := decodeBody[errorBody](t, rec)
			assert.Equal(t, http.StatusBadRequest, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestIngestDuplicateID(t *testing.T) {
	st := newMemStore()
	s := testServer(Deps{Store: st})

	first := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"id": "fixed", "source": "s", "level": "INFO", "message": "m",
	})
	require.Equal(t, http.StatusCreated, first.Code)

	second := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"id": "fixed", "source": "s", "level": "INFO", "message": "m",
	})
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestIngestWALFailure(t *testing.T) {
	s := testServer(Deps{Store: newMemStore(), WAL: &fakeWAL{err: fmt.Errorf("disk full")}})

	rec := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"source": "s", "level": "INFO", "message": "m",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestInsertFailureWithWALStillAccepted(t *testing.T) {
	st := newMemStore()
	st.insertErr = store.ErrUnavailable
	s := testServer(Deps{Store: st, WAL: &fakeWAL{}})

	rec := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"source": "s", "level": "INFO", "message": "m",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestIngestInsertFailureWithoutWAL(t *testing.T) {
	st := newMemStore()
	st.insertErr = store.ErrUnavailable
	s := testServer(Deps{Store: st})

	rec := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"source": "s", "level": "INFO", "message": "m",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetRecord(t *testing.T) {
	st := newMemStore()
	s := testServer(Deps{Store: st})

	created := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"source": "s", "level": "ERROR", "message": "boom",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	id := decodeBody[map[string]string](t, created)["id"]

	rec := doRequest(t, s, http.MethodGet, "/logs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[types.Record](t, rec)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, types.LevelError, got.Level)
	assert.Equal(t, got.Hash, merkle.HashRecord(&got))

	missing := doRequest(t, s, http.MethodGet, "/logs/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestListRecords(t *testing.T) {
	st := newMemStore()
	s := testServer(Deps{Store: st})

	for i := 0; i < 3; i++ {
		level := "INFO"
		if i == 2 {
			level = "ERROR"
		}
		rec := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
			"source": "svc-a", "level": level, "message": fmt.Sprintf("m%d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, s, http.MethodGet, "/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[listResponse](t, rec)
	assert.Equal(t, int64(3), body.Total)
	assert.Len(t, body.Records, 3)
	assert.Equal(t, int64(defaultPageSize), body.Limit)

	rec = doRequest(t, s, http.MethodGet, "/logs?level=ERROR", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody[listResponse](t, rec)
	assert.Equal(t, int64(1), body.Total)

	rec = doRequest(t, s, http.MethodGet, "/logs?limit=2", nil)
	body = decodeBody[listResponse](t, rec)
	assert.Len(t, body.Records, 2)
	assert.Equal(t, int64(3), body.Total)

	rec = doRequest(t, s, http.MethodGet, "/logs?limit=99999", nil)
	body = decodeBody[listResponse](t, rec)
	assert.Equal(t, int64(maxPageSize), body.Limit)

	rec = doRequest(t, s, http.MethodGet, "/logs?level=NOPE", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRecordIsNoOp(t *testing.T) {
	st := newMemStore()
	s := testServer(Deps{Store: st})

	created := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"source": "s", "level": "INFO", "message": "keep me",
	})
	id := decodeBody[map[string]string](t, created)["id"]

	rec := doRequest(t, s, http.MethodDelete, "/logs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Audit trail preserved
	after := doRequest(t, s, http.MethodGet, "/logs/"+id, nil)
	assert.Equal(t, http.StatusOK, after.Code)

	missing := doRequest(t, s, http.MethodDelete, "/logs/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestSubmitBatch(t *testing.T) {
	sched := &fakeScheduler{capacity: 1}
	s := testServer(Deps{Store: newMemStore(), Scheduler: sched})

	rec := doRequest(t, s, http.MethodPost, "/merkle/batch", map[string]int{"batch_size": 25})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int{25}, sched.submitted)

	rec = doRequest(t, s, http.MethodPost, "/merkle/batch", map[string]int{"batch_size": 25})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestForceBatchBounded(t *testing.T) {
	sched := &fakeScheduler{capacity: 100}
	s := testServer(Deps{Store: newMemStore(), Scheduler: sched})

	rec := doRequest(t, s, http.MethodPost, "/merkle/force-batch", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody[map[string]int](t, rec)
	assert.Equal(t, maxForceBatchJobs, body["jobs_submitted"])
}

func TestForceBatchQueueFull(t *testing.T) {
	sched := &fakeScheduler{capacity: 0}
	s := testServer(Deps{Store: newMemStore(), Scheduler: sched})

	rec := doRequest(t, s, http.MethodPost, "/merkle/force-batch", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetBatch(t *testing.T) {
	st := newMemStore()
	now := time.Now()
	for i := 0; i < 2; i++ {
		r := &types.Record{
			ID:         fmt.Sprintf("r%d", i),
			Source:     "s",
			Level:      types.LevelInfo,
			Message:    "m",
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
			BatchID:    "batch1",
			MerkleRoot: "root1",
			BatchedAt:  &now,
		}
		require.NoError(t, st.InsertRecord(context.Background(), r))
	}
	s := testServer(Deps{Store: st})

	rec := doRequest(t, s, http.MethodGet, "/merkle/batch/batch1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[batchResponse](t, rec)
	assert.Equal(t, 2, body.Num)
	assert.Equal(t, "root1", body.Batch.MerkleRoot)
	assert.Equal(t, []string{"r0", "r1"}, []string{body.Records[0].ID, body.Records[1].ID})

	missing := doRequest(t, s, http.MethodGet, "/merkle/batch/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestVerifyBatchStatusCodes(t *testing.T) {
	valid := &fakeVerifier{report: &types.VerificationReport{
		BatchID: "b1", IsValid: true, Integrity: types.IntegrityValid,
	}}
	s := testServer(Deps{Store: newMemStore(), Verifier: valid})
	rec := doRequest(t, s, http.MethodPost, "/merkle/verify/b1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	corrupted := &fakeVerifier{report: &types.VerificationReport{
		BatchID: "b1", Integrity: types.IntegrityCorrupted,
	}}
	s = testServer(Deps{Store: newMemStore(), Verifier: corrupted})
	rec = doRequest(t, s, http.MethodPost, "/merkle/verify/b1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	report := decodeBody[types.VerificationReport](t, rec)
	assert.Equal(t, types.IntegrityCorrupted, report.Integrity)

	notFound := &fakeVerifier{err: fmt.Errorf("wrap: %w", store.ErrNotFound)}
	s = testServer(Deps{Store: newMemStore(), Verifier: notFound})
	rec = doRequest(t, s, http.MethodPost, "/merkle/verify/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAlways200(t *testing.T) {
	s := testServer(Deps{Store: newMemStore()})

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWALEndpointsDisabled(t *testing.T) {
	s := testServer(Deps{Store: newMemStore()})

	rec := doRequest(t, s, http.MethodGet, "/wal/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/wal/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "disabled", body["status"])
}

func TestWALStats(t *testing.T) {
	w := &fakeWAL{}
	s := testServer(Deps{Store: newMemStore(), WAL: w})

	created := doRequest(t, s, http.MethodPost, "/logs", map[string]string{
		"source": "s", "level": "INFO", "message": "m",
	})
	require.Equal(t, http.StatusCreated, created.Code)

	rec := doRequest(t, s, http.MethodGet, "/wal/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[wal.Stats](t, rec)
	assert.Equal(t, int64(1), stats.PendingCount)
}

func TestRequestIDEcho(t *testing.T) {
	s := testServer(Deps{Store: newMemStore()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-me")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "trace-me", rec.Header().Get("X-Request-ID"))
}
