/*
Package store provides durable, indexed storage of Records and their
SyncControl sidecars in MongoDB.

The Store interface is the single mutation path for record state: the
HTTP layer and WAL drainer insert, the batch scheduler claims and tags,
the verifier reads back. Implementations guarantee:

  - InsertRecord fails with ErrDuplicateID on a reused identifier
  - FindUnbatched and FindByBatch sort ascending by created_at, the
    order that defines Merkle leaf order for a batch
  - TagBatch only touches still-unbatched records and reports
    ErrPartialTag when the modified count falls short, so a concurrent
    claim by another worker can never put one record in two batches
  - timeouts and transport failures map to ErrUnavailable (retriable)

Indexes are created at startup: unique id, timestamp, the compound
(source, timestamp) / (level, timestamp) / (source, level, timestamp)
query paths, created_at and batch_id on records; unique record_id,
status and created_at on sync control.
*/
package store
