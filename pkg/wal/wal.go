package wal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/events"
	"github.com/ledgerlog/ledgerlog/pkg/log"
	"github.com/ledgerlog/ledgerlog/pkg/metrics"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

const (
	pendingFile   = "pending"
	processedFile = "processed"
	lockFile      = "wal.lock"

	// insertTimeout bounds one store insert during a drain pass
	insertTimeout = 10 * time.Second

	// pruneInterval is how often retention pruning runs
	pruneInterval = time.Hour
)

// InsertFunc persists one drained record into the record store
type InsertFunc func(ctx context.Context, r *types.Record) error

// PendingEntry is one line of the pending file
type PendingEntry struct {
	WALTimestamp time.Time     `json:"wal_timestamp"`
	Record       *types.Record `json:"record"`
}

// ProcessedEntry is one line of the processed audit file
type ProcessedEntry struct {
	WALTimestamp       time.Time `json:"wal_timestamp"`
	ProcessedTimestamp time.Time `json:"processed_timestamp"`
	RecordID           string    `json:"record_id"`
}

// Stats is a snapshot of WAL counters
type Stats struct {
	PendingCount   int64     `json:"pending_count"`
	ProcessedTotal int64     `json:"processed_total"`
	AppendErrors   int64     `json:"append_errors"`
	DrainErrors    int64     `json:"drain_errors"`
	Drains         int64     `json:"drains"`
	LastDrain      time.Time `json:"last_drain,omitempty"`
}

// WAL is an append-only on-disk queue that guarantees durability of
// acknowledged records between ingest and store insert. Appends are
// fsynced before the caller may acknowledge; a background drainer moves
// entries into the record store and rewrites the pending file.
type WAL struct {
	dir           string
	pendingPath   string
	processedPath string
	checkInterval time.Duration
	retention     time.Duration
	maxFileBytes  int64

	insert InsertFunc
	broker *events.Broker
	logger zerolog.Logger

	// flk guards against sibling processes; mu serializes in-process
	// mutation of the pending file; drainMu serializes whole drain
	// passes so a second pass can never rewrite pending using a stale
	// snapshot offset
	flk     *flock.Flock
	mu      sync.Mutex
	drainMu sync.Mutex

	pending        atomic.Int64
	processedTotal atomic.Int64
	appendErrors   atomic.Int64
	drainErrors    atomic.Int64
	drains         atomic.Int64

	lastDrainMu sync.Mutex
	lastDrain   time.Time

	startMu sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New opens (or creates) the WAL directory and counts any pending
// entries left by a previous process. The drainer is not started.
func New(cfg config.WALConfig, insert InsertFunc, broker *events.Broker) (*WAL, error) {
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to open WAL directory: %w", err)
	}

	w := &WAL{
		dir:           cfg.Directory,
		pendingPath:   filepath.Join(cfg.Directory, pendingFile),
		processedPath: filepath.Join(cfg.Directory, processedFile),
		checkInterval: cfg.CheckInterval,
		retention:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		maxFileBytes:  int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		insert:        insert,
		broker:        broker,
		logger:        log.WithComponent("wal"),
		flk:           flock.New(filepath.Join(cfg.Directory, lockFile)),
	}

	// Recovery: anything in pending is picked up by the first drain tick
	n, err := w.countPendingLines()
	if err != nil {
		return nil, err
	}
	w.pending.Store(n)
	metrics.WALPending.Set(float64(n))
	if n > 0 {
		w.logger.Info().Int64("pending", n).Msg("recovered pending WAL entries")
	}

	return w, nil
}

// Start launches the background drainer
func (w *WAL) Start() {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run()
}

// Stop stops the drainer and waits for the current pass to finish
func (w *WAL) Stop() {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if !w.started {
		return
	}
	w.started = false
	close(w.stopCh)
	<-w.doneCh
}

// Append serializes the record, writes one line to the pending file
// under both locks, and fsyncs before returning. On any error the
// caller must not acknowledge the record.
func (w *WAL) Append(r *types.Record) error {
	entry := PendingEntry{WALTimestamp: time.Now().UTC(), Record: r}
	line, err := json.Marshal(entry)
	if err != nil {
		w.appendErrors.Add(1)
		metrics.WALErrors.WithLabelValues("append").Inc()
		return fmt.Errorf("failed to serialize WAL entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flk.Lock(); err != nil {
		w.appendErrors.Add(1)
		metrics.WALErrors.WithLabelValues("append").Inc()
		return fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer w.flk.Unlock()

	f, err := os.OpenFile(w.pendingPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.appendErrors.Add(1)
		metrics.WALErrors.WithLabelValues("append").Inc()
		return fmt.Errorf("failed to open WAL pending file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		w.appendErrors.Add(1)
		metrics.WALErrors.WithLabelValues("append").Inc()
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}

	// fsync failure is fatal to the write: without it the entry may
	// not survive power loss
	if err := f.Sync(); err != nil {
		w.appendErrors.Add(1)
		metrics.WALErrors.WithLabelValues("append").Inc()
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	w.pending.Add(1)
	metrics.WALPending.Inc()
	return nil
}

// ForceProcess runs one drain pass immediately
func (w *WAL) ForceProcess() error {
	return w.drain()
}

// Stats returns a snapshot of the WAL counters
func (w *WAL) Stats() Stats {
	w.lastDrainMu.Lock()
	last := w.lastDrain
	w.lastDrainMu.Unlock()

	return Stats{
		PendingCount:   w.pending.Load(),
		ProcessedTotal: w.processedTotal.Load(),
		AppendErrors:   w.appendErrors.Load(),
		DrainErrors:    w.drainErrors.Load(),
		Drains:         w.drains.Load(),
		LastDrain:      last,
	}
}

func (w *WAL) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.drain(); err != nil {
				w.logger.Error().Err(err).Msg("WAL drain failed")
			}
		case <-pruneTicker.C:
			if w.retention > 0 {
				if err := w.Prune(w.retention); err != nil {
					w.logger.Error().Err(err).Msg("WAL prune failed")
				}
			}
		case <-w.stopCh:
			return
		}
	}
}

// drain reads a snapshot of the pending file, attempts every entry
// against the store, appends successes to the processed file and
// rewrites pending with only the failures plus any lines appended
// concurrently. Passes are serialized end to end: the rewrite trusts
// the snapshot byte offset, which only holds while no other pass
// rewrote the file in between. The file mutex is still held only for
// the snapshot and the final rewrite, never during store callbacks, so
// appends stay unblocked.
func (w *WAL) drain() error {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	data, snapshotSize, err := w.snapshotPending()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	lines := splitLines(data)
	var failures bytes.Buffer
	var processed bytes.Buffer
	inserted := 0
	failed := 0

	for _, line := range lines {
		var entry PendingEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Record == nil {
			// A corrupt line can never be inserted; keep it out of the
			// retry loop but record the loss
			w.drainErrors.Add(1)
			metrics.WALErrors.WithLabelValues("drain").Inc()
			w.logger.Error().Str("line", string(line)).Msg("discarding unparseable WAL entry")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		err := w.insert(ctx, entry.Record)
		cancel()

		if err != nil {
			// Retriable: the entry stays in pending for the next pass
			w.drainErrors.Add(1)
			metrics.WALErrors.WithLabelValues("drain").Inc()
			failures.Write(line)
			failures.WriteByte('\n')
			failed++
			continue
		}

		rec := ProcessedEntry{
			WALTimestamp:       entry.WALTimestamp,
			ProcessedTimestamp: time.Now().UTC(),
			RecordID:           entry.Record.ID,
		}
		out, merr := json.Marshal(rec)
		if merr == nil {
			processed.Write(out)
			processed.WriteByte('\n')
		}
		inserted++
	}

	if processed.Len() > 0 {
		if err := w.appendProcessed(processed.Bytes()); err != nil {
			w.logger.Error().Err(err).Msg("failed to record processed WAL entries")
		}
	}

	if err := w.rewritePending(failures.Bytes(), snapshotSize); err != nil {
		return err
	}

	w.drains.Add(1)
	w.processedTotal.Add(int64(inserted))
	metrics.WALProcessed.Add(float64(inserted))
	w.lastDrainMu.Lock()
	w.lastDrain = time.Now()
	w.lastDrainMu.Unlock()

	if inserted > 0 {
		w.logger.Info().Int("inserted", inserted).Int("failed", failed).Msg("WAL drain complete")
		if w.broker != nil {
			w.broker.Publish(&events.Event{
				Type:    events.EventWALDrained,
				Message: fmt.Sprintf("drained %d WAL entries (%d failed)", inserted, failed),
			})
		}
	}

	return nil
}

// snapshotPending reads the pending file under both locks and returns
// its contents plus the byte offset the snapshot covers.
func (w *WAL) snapshotPending() ([]byte, int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flk.Lock(); err != nil {
		return nil, 0, fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer w.flk.Unlock()

	data, err := os.ReadFile(w.pendingPath)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read WAL pending file: %w", err)
	}

	if w.maxFileBytes > 0 && int64(len(data)) > w.maxFileBytes {
		w.logger.Warn().Int("bytes", len(data)).Msg("WAL pending file exceeds configured size limit")
	}

	return data, int64(len(data)), nil
}

// rewritePending atomically replaces the pending file with the failed
// entries plus any bytes appended after the snapshot. An empty result
// deletes the file.
func (w *WAL) rewritePending(failures []byte, snapshotSize int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flk.Lock(); err != nil {
		return fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer w.flk.Unlock()

	var tail []byte
	current, err := os.ReadFile(w.pendingPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to re-read WAL pending file: %w", err)
	}
	if int64(len(current)) > snapshotSize {
		tail = current[snapshotSize:]
	}

	content := append(append([]byte{}, failures...), tail...)

	if len(content) == 0 {
		if err := os.Remove(w.pendingPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove drained WAL pending file: %w", err)
		}
		w.pending.Store(0)
		metrics.WALPending.Set(0)
		return nil
	}

	if err := w.atomicWrite(w.pendingPath, content); err != nil {
		return err
	}

	n := countLines(content)
	w.pending.Store(n)
	metrics.WALPending.Set(float64(n))
	return nil
}

func (w *WAL) appendProcessed(data []byte) error {
	f, err := os.OpenFile(w.processedPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// Prune rewrites the processed file keeping only entries whose
// processed_timestamp falls within the retention window.
func (w *WAL) Prune(retention time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flk.Lock(); err != nil {
		return fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer w.flk.Unlock()

	data, err := os.ReadFile(w.processedPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read WAL processed file: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	var kept bytes.Buffer
	removed := 0

	for _, line := range splitLines(data) {
		var entry ProcessedEntry
		if err := json.Unmarshal(line, &entry); err == nil && entry.ProcessedTimestamp.Before(cutoff) {
			removed++
			continue
		}
		kept.Write(line)
		kept.WriteByte('\n')
	}

	if removed == 0 {
		return nil
	}

	if err := w.atomicWrite(w.processedPath, kept.Bytes()); err != nil {
		return err
	}

	w.logger.Info().Int("removed", removed).Msg("pruned WAL processed entries")
	return nil
}

// atomicWrite writes content to a tempfile in the WAL directory, syncs
// it and renames it over path.
func (w *WAL) atomicWrite(path string, content []byte) error {
	tmp, err := os.CreateTemp(w.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create WAL tempfile: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write WAL tempfile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync WAL tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace WAL file: %w", err)
	}
	return nil
}

func (w *WAL) countPendingLines() (int64, error) {
	data, err := os.ReadFile(w.pendingPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read WAL pending file: %w", err)
	}
	return countLines(data), nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

func countLines(data []byte) int64 {
	return int64(len(splitLines(data)))
}
