package types

import (
	"fmt"
	"time"
)

// Level is the severity of an ingested log record
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// ValidLevel reports whether l is one of the allowed severities
func ValidLevel(l Level) bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// Record is one ingested log entry. Records are immutable after ingest
// except for the single mutation that tags them into a Merkle batch.
type Record struct {
	ID         string            `json:"id" bson:"id"`
	Timestamp  string            `json:"timestamp" bson:"timestamp"` // RFC3339
	Source     string            `json:"source" bson:"source"`
	Level      Level             `json:"level" bson:"level"`
	Message    string            `json:"message" bson:"message"`
	Metadata   map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Stacktrace string            `json:"stacktrace,omitempty" bson:"stacktrace,omitempty"`
	Hash       string            `json:"hash" bson:"hash"` // hex SHA-256 of the canonical fields
	CreatedAt  time.Time         `json:"created_at" bson:"created_at"`

	// Set exactly once when the record is claimed into a batch
	BatchID    string     `json:"batch_id,omitempty" bson:"batch_id,omitempty"`
	MerkleRoot string     `json:"merkle_root,omitempty" bson:"merkle_root,omitempty"`
	BatchedAt  *time.Time `json:"batched_at,omitempty" bson:"batched_at,omitempty"`
}

// Validate checks the fields a caller must supply
func (r *Record) Validate() error {
	if r.Source == "" {
		return fmt.Errorf("source is required")
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if !ValidLevel(r.Level) {
		return fmt.Errorf("level must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
	}
	return nil
}

// SyncStatus tracks a record's progress toward ledger anchoring
type SyncStatus string

const (
	SyncPending      SyncStatus = "pending"
	SyncPendingBatch SyncStatus = "pending_batch"
	SyncSynced       SyncStatus = "synced"
	SyncFailed       SyncStatus = "failed"
)

// SyncControl is the per-record sidecar tracking ledger-anchoring
// progress. Exactly one exists per Record; it is transitioned by the
// scheduler and never deleted.
type SyncControl struct {
	RecordID  string     `json:"record_id" bson:"record_id"`
	Status    SyncStatus `json:"status" bson:"status"`
	BatchID   string     `json:"batch_id,omitempty" bson:"batch_id,omitempty"`
	TxID      string     `json:"tx_id,omitempty" bson:"tx_id,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty" bson:"synced_at,omitempty"`
	FailedAt  *time.Time `json:"failed_at,omitempty" bson:"failed_at,omitempty"`
	LastError string     `json:"last_error,omitempty" bson:"last_error,omitempty"`
}

// MerkleBatch is a logical grouping of records anchored under one
// Merkle root. It is materialized through the batch_id field on the
// records, persisted on the ledger, and never mutated.
type MerkleBatch struct {
	BatchID    string    `json:"batch_id" bson:"batch_id"`
	MerkleRoot string    `json:"merkle_root" bson:"merkle_root"`
	Timestamp  string    `json:"timestamp" bson:"timestamp"` // RFC3339
	NumRecords int       `json:"num_records" bson:"num_records"`
	RecordIDs  []string  `json:"record_ids" bson:"record_ids"`
	CreatedAt  time.Time `json:"created_at,omitempty" bson:"created_at,omitempty"`
}

// Validate checks internal consistency of a batch
func (b *MerkleBatch) Validate() error {
	if b.BatchID == "" {
		return fmt.Errorf("batch_id is required")
	}
	if b.MerkleRoot == "" {
		return fmt.Errorf("merkle_root is required")
	}
	if b.NumRecords <= 0 {
		return fmt.Errorf("num_records must be greater than 0")
	}
	if len(b.RecordIDs) != b.NumRecords {
		return fmt.Errorf("record_ids length (%d) does not match num_records (%d)", len(b.RecordIDs), b.NumRecords)
	}
	return nil
}

// BatchSummary is one row of the batch listing aggregation
type BatchSummary struct {
	BatchID    string    `json:"batch_id" bson:"_id"`
	MerkleRoot string    `json:"merkle_root" bson:"merkle_root"`
	NumRecords int       `json:"num_records" bson:"num_records"`
	BatchedAt  time.Time `json:"batched_at" bson:"batched_at"`
}

// SyncStats aggregates SyncControl entries by status
type SyncStats struct {
	Pending      int64 `json:"pending"`
	PendingBatch int64 `json:"pending_batch"`
	Synced       int64 `json:"synced"`
	Failed       int64 `json:"failed"`
	Total        int64 `json:"total"`
}

// IntegrityVerdict is the outcome of a batch verification
type IntegrityVerdict string

const (
	IntegrityValid     IntegrityVerdict = "VALID"
	IntegrityCorrupted IntegrityVerdict = "CORRUPTED"
)

// VerificationReport is the result of recomputing a batch's Merkle root
// and comparing it to the root stored at batch creation.
type VerificationReport struct {
	BatchID        string           `json:"batch_id"`
	NumRecords     int              `json:"num_records"`
	OriginalRoot   string           `json:"original_merkle_root"`
	RecomputedRoot string           `json:"recalculated_merkle_root"`
	IsValid        bool             `json:"is_valid"`
	Integrity      IntegrityVerdict `json:"integrity"`
	Message        string           `json:"message"`
}

// LedgerBatch is the batch record as stored on the external ledger.
// Field names follow the chaincode schema.
type LedgerBatch struct {
	BatchID    string   `json:"batch_id"`
	MerkleRoot string   `json:"merkle_root"`
	Timestamp  string   `json:"timestamp"`
	NumRecords int      `json:"num_logs"`
	RecordIDs  []string `json:"log_ids"`
}
