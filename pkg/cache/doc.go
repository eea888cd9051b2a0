/*
Package cache implements the read-through Redis cache for query
endpoints and its invalidation contract.

The contract: every mutation of a Record invalidates all cached list
queries that could contain it (keyed by the record's source, plus the
unfiltered lists) and the per-id entry. Delete requests are logical
no-ops on the store but still invalidate the per-id entry so stale
content is never served.

The cache is strictly an optimization: a nil *Cache is a valid
always-miss implementation, which is what the composition root wires
when cache.enabled is false.
*/
package cache
