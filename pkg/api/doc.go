/*
Package api is the HTTP front end of the ingestion pipeline.

Routes are grouped by concern: /logs for ingest and queries, /merkle
for batch scheduling and verification, /wal for durability inspection,
plus /health, /stats, /metrics and an SSE stream on /events.

Every response carries an X-Request-ID correlation header, errors use a
uniform {error, message, code} envelope, and /health always answers 200
with degradation reported in the body.

The ingest write path acknowledges a record once its WAL append is
fsynced. A store insert failure after that point still returns 201; the
WAL drainer completes the insert.
*/
package api
