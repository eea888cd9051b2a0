/*
Package config loads and validates the process-wide configuration.

Precedence, lowest to highest:

 1. compiled-in defaults (Default)
 2. the YAML file passed with --config
 3. LEDGERLOG_* environment variables (LEDGERLOG_SERVER_PORT,
    LEDGERLOG_STORE_URL, LEDGERLOG_LEDGER_SYNC_ENABLED, ...)

A .env file in the working directory is loaded by the CLI before
Load runs, so deployments can keep overrides next to the binary.

Validation failures are fatal at startup: a process that cannot trust
its configuration must not accept records.
*/
package config
