/*
Package log provides structured logging for Ledgerlog built on zerolog.

A single global logger is initialized once at startup from the logging
section of the configuration. Components derive child loggers that carry
identifying fields:

	logger := log.WithComponent("scheduler")
	logger.Info().Str("batch_id", id).Int("size", n).Msg("batch anchored")

Console output (human-readable) is the default; JSON output is used in
production deployments where logs are shipped to a collector.
*/
package log
