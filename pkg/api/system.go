package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ledgerlog/ledgerlog/pkg/metrics"
	"github.com/ledgerlog/ledgerlog/pkg/store"
)

// handleHealth always answers 200; degradation is reported in the body
// so load balancers and operators read the same signal
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, metrics.GetHealth())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, storeTimeout)
	defer cancel()

	stats := map[string]any{
		"batching": s.deps.Scheduler.Stats(),
	}

	if total, err := s.deps.Store.CountRecords(ctx, store.RecordFilter{}); err == nil {
		stats["total_records"] = total
	}
	if syncStats, err := s.deps.Store.AggregateSyncStats(ctx); err == nil {
		stats["sync"] = syncStats
	}
	if s.deps.WAL != nil {
		stats["wal"] = s.deps.WAL.Stats()
	}
	if s.deps.Broker != nil {
		stats["event_subscribers"] = s.deps.Broker.SubscriberCount()
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWALStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.WAL == nil {
		respondError(w, http.StatusServiceUnavailable, "wal_disabled", "write-ahead log is disabled")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.WAL.Stats())
}

func (s *Server) handleWALHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.WAL == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": metrics.StatusDisabled})
		return
	}

	stats := s.deps.WAL.Stats()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        metrics.StatusHealthy,
		"pending_count": stats.PendingCount,
		"last_drain":    stats.LastDrain,
	})
}

func (s *Server) handleWALForceProcess(w http.ResponseWriter, r *http.Request) {
	if s.deps.WAL == nil {
		respondError(w, http.StatusServiceUnavailable, "wal_disabled", "write-ahead log is disabled")
		return
	}

	if err := s.deps.WAL.ForceProcess(); err != nil {
		respondError(w, http.StatusInternalServerError, "drain_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.deps.WAL.Stats())
}

// handleEvents streams pipeline events over SSE until the client
// disconnects
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		respondError(w, http.StatusServiceUnavailable, "events_disabled", "event streaming is not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.deps.Broker.Subscribe()
	defer s.deps.Broker.Unsubscribe(sub)

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
