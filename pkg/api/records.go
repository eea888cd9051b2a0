package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerlog/ledgerlog/pkg/cache"
	"github.com/ledgerlog/ledgerlog/pkg/events"
	"github.com/ledgerlog/ledgerlog/pkg/merkle"
	"github.com/ledgerlog/ledgerlog/pkg/metrics"
	"github.com/ledgerlog/ledgerlog/pkg/store"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

const (
	maxBodyBytes    = 1 << 20
	defaultPageSize = 50
	maxPageSize     = 1000
	storeTimeout    = 10 * time.Second
)

type listResponse struct {
	Records []*types.Record `json:"records"`
	Total   int64           `json:"total"`
	Limit   int64           `json:"limit"`
	Offset  int64           `json:"offset"`
}

// handleIngest accepts one record: validate, fill server-side fields,
// hash, WAL-append, insert. Once the WAL append is fsynced the record
// is acknowledged even if the store insert fails; the drainer finishes
// the job.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var rec types.Record
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		metrics.IngestFailures.WithLabelValues("malformed").Inc()
		respondError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	if err := rec.Validate(); err != nil {
		metrics.IngestFailures.WithLabelValues("validation").Inc()
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if existing, err := s.deps.Store.FindRecordByID(r.Context(), rec.ID); err == nil && existing != nil {
		metrics.IngestFailures.WithLabelValues("duplicate").Inc()
		respondError(w, http.StatusConflict, "duplicate_id", "a record with this id already exists")
		return
	}
	if rec.Timestamp == "" {
		rec.Timestamp = now.Format(time.RFC3339)
	}
	rec.CreatedAt = now
	rec.BatchID = ""
	rec.MerkleRoot = ""
	rec.BatchedAt = nil
	rec.Hash = merkle.HashRecord(&rec)

	if s.deps.WAL != nil {
		if err := s.deps.WAL.Append(&rec); err != nil {
			metrics.IngestFailures.WithLabelValues("wal").Inc()
			respondError(w, http.StatusServiceUnavailable, "wal_append_failed", "failed to persist record durably")
			return
		}
	}

	if err := s.insertRecord(r, &rec); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			metrics.IngestFailures.WithLabelValues("duplicate").Inc()
			respondError(w, http.StatusConflict, "duplicate_id", "a record with this id already exists")
			return
		}
		if s.deps.WAL == nil {
			metrics.IngestFailures.WithLabelValues("store").Inc()
			respondError(w, http.StatusInternalServerError, "insert_failed", "failed to store record")
			return
		}
		// WAL holds the record; the drainer retries the insert
		s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Insert failed after WAL ack, deferring to drainer")
	}

	metrics.RecordsIngested.Inc()
	s.publish(events.EventRecordIngested, "Record ingested", map[string]string{
		"record_id": rec.ID,
		"source":    rec.Source,
	})
	s.deps.Cache.InvalidateSource(r.Context(), rec.Source)

	respondJSON(w, http.StatusCreated, map[string]string{
		"id":   rec.ID,
		"hash": rec.Hash,
	})
}

func (s *Server) insertRecord(r *http.Request, rec *types.Record) error {
	ctx, cancel := contextWithTimeout(r, storeTimeout)
	defer cancel()

	if err := s.deps.Store.InsertRecord(ctx, rec); err != nil {
		return err
	}
	if err := s.deps.Store.InsertSyncControl(ctx, &types.SyncControl{
		RecordID:  rec.ID,
		Status:    types.SyncPendingBatch,
		CreatedAt: rec.CreatedAt,
	}); err != nil {
		s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Failed to insert sync control")
	}
	return nil
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	level := types.Level(q.Get("level"))
	if level != "" && !types.ValidLevel(level) {
		respondError(w, http.StatusBadRequest, "invalid_level", "level must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
		return
	}
	source := q.Get("source")

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

	key := cache.ListKey(source, level, limit, offset)
	if payload, ok := s.deps.Cache.GetList(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	ctx, cancel := contextWithTimeout(r, storeTimeout)
	defer cancel()

	filter := store.RecordFilter{Source: source, Level: level}
	records, err := s.deps.Store.FindRecords(ctx, filter, store.Page{Limit: limit, Offset: offset})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "failed to list records")
		return
	}
	total, err := s.deps.Store.CountRecords(ctx, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", "failed to count records")
		return
	}
	if records == nil {
		records = []*types.Record{}
	}

	resp := listResponse{Records: records, Total: total, Limit: limit, Offset: offset}
	if payload, err := json.Marshal(resp); err == nil {
		s.deps.Cache.SetList(r.Context(), source, key, payload)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if rec, ok := s.deps.Cache.GetRecord(r.Context(), id); ok {
		respondJSON(w, http.StatusOK, rec)
		return
	}

	ctx, cancel := contextWithTimeout(r, storeTimeout)
	defer cancel()

	rec, err := s.deps.Store.FindRecordByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "query_failed", "failed to load record")
		return
	}

	s.deps.Cache.SetRecord(r.Context(), rec)
	respondJSON(w, http.StatusOK, rec)
}

// handleDeleteRecord acknowledges the delete without removing anything.
// Records are the audit trail; the per-id cache entry is invalidated so
// callers never read content they asked to remove.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := contextWithTimeout(r, storeTimeout)
	defer cancel()

	if _, err := s.deps.Store.FindRecordByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "query_failed", "failed to load record")
		return
	}

	s.deps.Cache.InvalidateRecord(r.Context(), id)
	s.publish(events.EventRecordDeleted, "Record delete acknowledged", map[string]string{"record_id": id})

	respondJSON(w, http.StatusOK, map[string]string{
		"id":      id,
		"message": "delete acknowledged, record retained for audit",
	})
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
