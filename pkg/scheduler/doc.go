/*
Package scheduler turns unbatched records into anchored Merkle batches.

A ticker enqueues a job every auto-batch interval and the HTTP API can
enqueue jobs on demand; a fixed worker pool consumes them. Each job
claims up to BatchSize unbatched records in created_at order, computes
the Merkle root over their hashes, tags them with a fresh batch id and
anchors the root on the ledger.

Two failure boundaries matter. A partial tag means another worker
claimed some of the selected records first; the job aborts before
anchoring and the untouched records are picked up by a later run. An
anchor failure leaves the tagged records in pending_batch; the batch id
is stable and anchoring is idempotent per id, so the anchor can be
retried without re-tagging.

The job queue is bounded. A full queue drops ticker submissions and
counts the drop instead of letting backlog grow without limit.
*/
package scheduler
