// Package verifier checks batch integrity by recomputing record hashes
// from stored content, rebuilding the Merkle root and comparing it with
// the root fixed at batch creation, optionally cross-checked against
// the root anchored on the ledger.
package verifier
