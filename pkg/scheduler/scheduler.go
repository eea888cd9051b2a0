package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ledgerlog/ledgerlog/pkg/cache"
	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/events"
	"github.com/ledgerlog/ledgerlog/pkg/ledger"
	"github.com/ledgerlog/ledgerlog/pkg/log"
	"github.com/ledgerlog/ledgerlog/pkg/merkle"
	"github.com/ledgerlog/ledgerlog/pkg/metrics"
	"github.com/ledgerlog/ledgerlog/pkg/store"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

const (
	storeTimeout   = 15 * time.Second
	anchorAttempts = 3
)

// Job is one batching request: claim up to BatchSize unbatched records,
// tag them under a fresh batch id and anchor the Merkle root.
type Job struct {
	BatchSize int
}

// Stats is a point-in-time snapshot of scheduler counters
type Stats struct {
	TotalBatches     uint64     `json:"total_batches"`
	TotalRecords     uint64     `json:"total_records"`
	FailedBatches    uint64     `json:"failed_batches"`
	ProcessingErrors uint64     `json:"processing_errors"`
	DroppedTicks     uint64     `json:"dropped_ticks"`
	NoOpRuns         uint64     `json:"no_op_runs"`
	LastBatchID      string     `json:"last_batch_id,omitempty"`
	LastBatchSize    int        `json:"last_batch_size,omitempty"`
	LastBatchTime    *time.Time `json:"last_batch_time,omitempty"`
	Running          bool       `json:"running"`
	QueueDepth       int        `json:"queue_depth"`
}

// Scheduler drives Merkle batch creation: a ticker enqueues periodic
// jobs, a bounded worker pool executes them. Backpressure is explicit;
// when the queue is full, ticks are dropped and counted rather than
// queued without bound.
type Scheduler struct {
	store  store.Store
	ledger ledger.Client
	cache  *cache.Cache
	broker *events.Broker
	cfg    config.BatchingConfig
	logger zerolog.Logger

	invokeTimeout time.Duration

	jobs    chan Job
	stopCh  chan struct{}
	wg      sync.WaitGroup
	startMu sync.Mutex
	running bool

	statsMu sync.Mutex
	stats   Stats
}

// New builds a stopped scheduler
func New(st store.Store, lc ledger.Client, c *cache.Cache, broker *events.Broker, cfg config.BatchingConfig, invokeTimeout time.Duration) *Scheduler {
	return &Scheduler{
		store:         st,
		ledger:        lc,
		cache:         c,
		broker:        broker,
		cfg:           cfg,
		logger:        log.WithComponent("scheduler"),
		invokeTimeout: invokeTimeout,
		jobs:          make(chan Job, cfg.MaxQueueDepth),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the worker pool and the auto-batch ticker
func (s *Scheduler) Start() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go s.tick()

	s.logger.Info().
		Int("workers", s.cfg.WorkerCount).
		Int("batch_size", s.cfg.AutoBatchSize).
		Dur("interval", s.cfg.AutoBatchInterval).
		Msg("Batch scheduler started")
	return nil
}

// Stop halts the ticker and workers, waiting up to the context deadline
func (s *Scheduler) Stop(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Batch scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop timed out: %w", ctx.Err())
	}
}

// Submit enqueues one batching job without blocking. It fails when the
// queue is full or the scheduler is stopped.
func (s *Scheduler) Submit(batchSize int) error {
	if batchSize <= 0 {
		batchSize = s.cfg.AutoBatchSize
	}

	select {
	case <-s.stopCh:
		return fmt.Errorf("scheduler is stopped")
	default:
	}

	select {
	case s.jobs <- Job{BatchSize: batchSize}:
		return nil
	default:
		return fmt.Errorf("job queue full (%d)", s.cfg.MaxQueueDepth)
	}
}

// Stats returns a copy of the current counters
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	out := s.stats
	s.statsMu.Unlock()

	s.startMu.Lock()
	out.Running = s.running
	s.startMu.Unlock()

	out.QueueDepth = len(s.jobs)
	return out
}

func (s *Scheduler) tick() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AutoBatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case s.jobs <- Job{BatchSize: s.cfg.AutoBatchSize}:
			default:
				metrics.DroppedTicks.Inc()
				s.statsMu.Lock()
				s.stats.DroppedTicks++
				s.statsMu.Unlock()
				s.logger.Warn().Msg("Job queue full, dropping scheduled batch tick")
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobs:
			s.runBatch(job)
		case <-s.stopCh:
			return
		}
	}
}

// runBatch claims, tags and anchors one batch. The claim is made safe
// against concurrent workers by TagBatch only touching still-unbatched
// records; a partial tag aborts before anchoring.
func (s *Scheduler) runBatch(job Job) {
	start := time.Now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	records, err := s.store.FindUnbatched(ctx, job.BatchSize)
	if err != nil {
		s.countError()
		s.logger.Error().Err(err).Msg("Failed to load unbatched records")
		return
	}
	if len(records) == 0 {
		s.statsMu.Lock()
		s.stats.NoOpRuns++
		s.statsMu.Unlock()
		return
	}

	batchID := uuid.NewString()[:8]
	logger := s.logger.With().Str("batch_id", batchID).Logger()

	root, _ := merkle.RootOfRecords(records)
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	if err := s.store.TagBatch(ctx, ids, batchID, root); err != nil {
		s.countError()
		if store.IsRetriable(err) {
			logger.Warn().Err(err).Msg("Batch tagging failed, records remain unbatched")
		} else {
			logger.Error().Err(err).Int("records", len(ids)).Msg("Batch tagging incomplete, skipping anchor")
		}
		return
	}

	metrics.BatchesTotal.Inc()
	metrics.BatchRecords.Add(float64(len(ids)))

	s.statsMu.Lock()
	s.stats.TotalBatches++
	s.stats.TotalRecords += uint64(len(ids))
	s.stats.LastBatchID = batchID
	s.stats.LastBatchSize = len(ids)
	now := time.Now()
	s.stats.LastBatchTime = &now
	s.statsMu.Unlock()

	s.publish(events.EventBatchCreated, batchID, fmt.Sprintf("Batch %s created with %d records", batchID, len(ids)))
	logger.Info().Int("records", len(ids)).Str("merkle_root", root).Msg("Batch created")

	s.invalidate(ctx, records)

	if s.ledger == nil {
		// no ledger configured: the batch is built and tagged but
		// never anchored, and its records stay pending_batch
		logger.Debug().Msg("Ledger sync disabled, batch left unanchored")
		return
	}

	batch := &types.MerkleBatch{
		BatchID:    batchID,
		MerkleRoot: root,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		NumRecords: len(ids),
		RecordIDs:  ids,
	}

	txID, err := s.anchor(batch)
	if err != nil {
		metrics.BatchesFailed.Inc()
		s.statsMu.Lock()
		s.stats.FailedBatches++
		s.statsMu.Unlock()
		s.publish(events.EventBatchAnchorFailed, batchID, err.Error())
		// Records stay pending_batch under this batch id; anchoring is
		// idempotent per id so a later retry is safe
		logger.Error().Err(err).Msg("Failed to anchor batch on ledger")
		return
	}

	sctx, scancel := context.WithTimeout(context.Background(), storeTimeout)
	defer scancel()
	if err := s.store.UpdateSyncStatusBatch(sctx, ids, types.SyncSynced, batchID, txID); err != nil {
		s.countError()
		logger.Error().Err(err).Str("tx_id", txID).Msg("Anchored but failed to mark records synced")
		return
	}

	s.publish(events.EventBatchAnchored, batchID, fmt.Sprintf("Batch %s anchored, tx %s", batchID, txID))
	logger.Info().Str("tx_id", txID).Msg("Batch anchored and marked synced")
}

// anchor submits the batch, retrying transient failures with the same
// batch id
func (s *Scheduler) anchor(batch *types.MerkleBatch) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= anchorAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.invokeTimeout)
		txID, err := s.ledger.StoreBatch(ctx, batch)
		cancel()
		if err == nil {
			return txID, nil
		}
		lastErr = err
		if !ledger.IsRetriable(err) {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-s.stopCh:
			return "", lastErr
		}
	}
	return "", lastErr
}

func (s *Scheduler) invalidate(ctx context.Context, records []*types.Record) {
	sources := make(map[string]struct{})
	for _, r := range records {
		s.cache.InvalidateRecord(ctx, r.ID)
		sources[r.Source] = struct{}{}
	}
	for source := range sources {
		s.cache.InvalidateSource(ctx, source)
	}
}

func (s *Scheduler) countError() {
	s.statsMu.Lock()
	s.stats.ProcessingErrors++
	s.statsMu.Unlock()
}

func (s *Scheduler) publish(eventType events.EventType, batchID, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"batch_id": batchID,
		},
	})
}
