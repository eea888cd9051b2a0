/*
Package wal implements the write-ahead log that sits between HTTP
acknowledgement and the record store.

The contract: a record is never acknowledged to the caller until its
WAL entry has been fsynced to disk. From that point the record will
eventually reach the record store, surviving process crashes and power
loss in between.

# Layout

The WAL owns one directory with two newline-delimited JSON files:

	pending     entries not yet accepted by the store
	            {"wal_timestamp": ..., "record": {...}}
	processed   audit trail of drained entries
	            {"wal_timestamp": ..., "processed_timestamp": ..., "record_id": ...}

Transient *.tmp files appear during atomic rewrites.

# Drainer

A background task wakes on the configured interval, snapshots the
pending file, inserts each entry through the store callback, appends
successes to processed and atomically rewrites pending with only the
failures (tempfile + rename). Entries appended while a drain pass is
running are preserved by carrying the post-snapshot tail into the
rewrite. An empty pending file is deleted.

Failed inserts are retriable: the entry stays in pending and the next
pass tries again. On startup any pending file left by a previous
process simply feeds the first drain tick.

# Locking

Appends hold an in-process mutex plus a flock on wal.lock; the flock
guards against a sibling process writing the same directory. The
drainer acquires the locks only for the snapshot and the final rewrite,
never while store callbacks run.
*/
package wal
