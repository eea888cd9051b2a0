/*
Package events provides a lightweight in-process publish/subscribe
broker for ingestion-pipeline lifecycle events.

The WAL drainer and the batch scheduler publish events (record.ingested,
batch.created, batch.anchored, batch.anchor_failed, wal.drained); the
HTTP layer exposes them to operators as a server-sent event stream.

Delivery is best-effort: publishing never blocks the pipeline, and a
slow subscriber whose buffer is full misses events rather than applying
backpressure to ingestion.
*/
package events
