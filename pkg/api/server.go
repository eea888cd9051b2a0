package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ledgerlog/ledgerlog/pkg/cache"
	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/events"
	"github.com/ledgerlog/ledgerlog/pkg/log"
	"github.com/ledgerlog/ledgerlog/pkg/metrics"
	"github.com/ledgerlog/ledgerlog/pkg/scheduler"
	"github.com/ledgerlog/ledgerlog/pkg/store"
	"github.com/ledgerlog/ledgerlog/pkg/types"
	"github.com/ledgerlog/ledgerlog/pkg/wal"
)

// BatchScheduler is the scheduler surface the API depends on
type BatchScheduler interface {
	Submit(batchSize int) error
	Stats() scheduler.Stats
}

// BatchVerifier recomputes and checks batch integrity
type BatchVerifier interface {
	VerifyBatch(ctx context.Context, batchID string) (*types.VerificationReport, error)
}

// WALManager is the WAL surface the API depends on
type WALManager interface {
	Append(r *types.Record) error
	ForceProcess() error
	Stats() wal.Stats
}

// Deps are the collaborators wired in by the composition root. WAL may
// be nil when durability is disabled.
type Deps struct {
	Store     store.Store
	Cache     *cache.Cache
	WAL       WALManager
	Scheduler BatchScheduler
	Verifier  BatchVerifier
	Broker    *events.Broker
}

// Server is the HTTP API front end of the ingestion pipeline
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	srv    *http.Server
	logger zerolog.Logger
}

// New builds the server and its router
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("api"),
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router assembles middleware and routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(requestMetrics)

	r.Route("/logs", func(r chi.Router) {
		r.Post("/", s.handleIngest)
		r.Get("/", s.handleListRecords)
		r.Get("/{id}", s.handleGetRecord)
		r.Delete("/{id}", s.handleDeleteRecord)
	})

	r.Route("/merkle", func(r chi.Router) {
		r.Post("/batch", s.handleSubmitBatch)
		r.Post("/force-batch", s.handleForceBatch)
		r.Get("/batch/{id}", s.handleGetBatch)
		r.Post("/verify/{id}", s.handleVerifyBatch)
		r.Get("/batches", s.handleListBatches)
		r.Get("/stats", s.handleBatchStats)
	})

	r.Route("/wal", func(r chi.Router) {
		r.Get("/stats", s.handleWALStats)
		r.Get("/health", s.handleWALHealth)
		r.Post("/force-process", s.handleWALForceProcess)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/events", s.handleEvents)
	r.Handle("/metrics", metrics.Handler())

	return r
}

// Start serves until Shutdown or a listener error
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr()).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests up to the context deadline
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the uniform error envelope
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: code, Message: message, Code: status})
}

func (s *Server) publish(eventType events.EventType, message string, metadata map[string]string) {
	if s.deps.Broker == nil {
		return
	}
	s.deps.Broker.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
	})
}
