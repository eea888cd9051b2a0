/*
Package metrics exposes Prometheus instrumentation and the component
health registry for Ledgerlog.

All metrics are registered at init and updated directly by the owning
component: the API layer records request counts and latency, the WAL
maintains the pending gauge, the scheduler counts batches and dropped
ticks, the ledger client times invocations.

The health registry tracks each dependency (store, cache, ledger, wal,
scheduler) with one of four statuses:

	healthy    the dependency responded to its last probe
	unhealthy  the dependency is configured but failing
	disabled   the dependency is turned off in configuration
	stopped    the component was shut down deliberately

Only unhealthy components degrade the overall verdict; GET /health
always returns 200 with the per-component breakdown in the body.
*/
package metrics
