package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerlog/ledgerlog/pkg/store"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

const maxForceBatchJobs = 10

type submitBatchRequest struct {
	BatchSize int `json:"batch_size"`
}

type batchResponse struct {
	Batch   batchInfo       `json:"batch"`
	Records []*types.Record `json:"records"`
	Num     int             `json:"num"`
}

type batchInfo struct {
	BatchID    string `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	BatchedAt  string `json:"batched_at,omitempty"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
			return
		}
	}

	if err := s.deps.Scheduler.Submit(req.BatchSize); err != nil {
		respondError(w, http.StatusInternalServerError, "submit_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "batch job enqueued",
	})
}

// handleForceBatch enqueues jobs until the queue refuses, bounded so a
// single call cannot monopolize the queue
func (s *Server) handleForceBatch(w http.ResponseWriter, r *http.Request) {
	submitted := 0
	for i := 0; i < maxForceBatchJobs; i++ {
		if err := s.deps.Scheduler.Submit(0); err != nil {
			break
		}
		submitted++
	}

	if submitted == 0 {
		respondError(w, http.StatusInternalServerError, "submit_failed", "no batch jobs could be enqueued")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]int{
		"jobs_submitted": submitted,
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	ctx, cancel := contextWithTimeout(r, storeTimeout)
	defer cancel()

	records, err := s.deps.Store.FindByBatch(ctx, batchID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "failed to load batch")
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}

	info := batchInfo{
		BatchID:    batchID,
		MerkleRoot: records[0].MerkleRoot,
	}
	if records[0].BatchedAt != nil {
		info.BatchedAt = records[0].BatchedAt.UTC().Format(time.RFC3339)
	}

	respondJSON(w, http.StatusOK, batchResponse{
		Batch:   info,
		Records: records,
		Num:     len(records),
	})
}

func (s *Server) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	ctx, cancel := contextWithTimeout(r, storeTimeout)
	defer cancel()

	report, err := s.deps.Verifier.VerifyBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "verify_failed", "batch verification failed")
		return
	}

	status := http.StatusOK
	if report.Integrity == types.IntegrityCorrupted {
		status = http.StatusConflict
	}
	respondJSON(w, status, report)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseInt64(q.Get("limit"), defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := parseInt64(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := contextWithTimeout(r, storeTimeout)
	defer cancel()

	batches, err := s.deps.Store.AggregateBatches(ctx, store.Page{Limit: limit, Offset: offset})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "failed to list batches")
		return
	}
	if batches == nil {
		batches = []*types.BatchSummary{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) handleBatchStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Scheduler.Stats())
}
