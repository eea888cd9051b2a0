/*
Package types defines the core data model shared by every Ledgerlog
component: Record, SyncControl and MerkleBatch, plus the derived
reporting shapes (SyncStats, BatchSummary, VerificationReport).

# Entities

Record:
  - One ingested log line with its canonical SHA-256 content hash
  - Identifier is caller-supplied or server-generated, globally unique
  - Mutated exactly once, when the scheduler tags it into a batch
  - Never deleted; delete requests are accepted as logical no-ops

SyncControl:
  - Exactly one per Record, keyed by record_id
  - Tracks progress through pending -> pending_batch -> synced
  - failed is reachable from pending/pending_batch and recoverable

MerkleBatch:
  - A set of records committed to the same Merkle root
  - Denormalized onto the records (batch_id, merkle_root, batched_at)
    and anchored on the external ledger under the batch identifier
  - Never mutated after creation

Structs carry both json and bson tags: the same shapes flow over the
HTTP API and into the document store.
*/
package types
