package verifier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ledgerlog/ledgerlog/pkg/ledger"
	"github.com/ledgerlog/ledgerlog/pkg/log"
	"github.com/ledgerlog/ledgerlog/pkg/merkle"
	"github.com/ledgerlog/ledgerlog/pkg/store"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

// Verifier recomputes batch Merkle roots from stored record content and
// compares them against the root fixed at batch creation.
type Verifier struct {
	store  store.Store
	ledger ledger.Client
	logger zerolog.Logger
}

// New builds a verifier. The ledger client may be nil; ledger
// cross-checking is then unavailable.
func New(st store.Store, lc ledger.Client) *Verifier {
	return &Verifier{
		store:  st,
		ledger: lc,
		logger: log.WithComponent("verifier"),
	}
}

// VerifyBatch loads the batch members, recomputes every record hash
// from content and rebuilds the Merkle root. Any tampered record
// changes its recomputed hash and therefore the root.
func (v *Verifier) VerifyBatch(ctx context.Context, batchID string) (*types.VerificationReport, error) {
	records, err := v.store.FindByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, batchID)
	}

	report := &types.VerificationReport{
		BatchID:    batchID,
		NumRecords: len(records),
	}

	// Every member carries the root fixed at creation; a disagreement
	// means the stored copies were altered after tagging
	original := records[0].MerkleRoot
	for _, r := range records[1:] {
		if r.MerkleRoot != original {
			report.Integrity = types.IntegrityCorrupted
			report.Message = fmt.Sprintf("records in batch %s disagree on the stored merkle root", batchID)
			v.logger.Warn().Str("batch_id", batchID).Msg("Stored merkle roots disagree within batch")
			return report, nil
		}
	}
	report.OriginalRoot = original

	recomputed, _ := merkle.RootOfRecords(records)
	report.RecomputedRoot = recomputed

	if recomputed == original {
		report.IsValid = true
		report.Integrity = types.IntegrityValid
		report.Message = fmt.Sprintf("batch %s is intact, %d records verified", batchID, len(records))
	} else {
		report.Integrity = types.IntegrityCorrupted
		report.Message = fmt.Sprintf("batch %s failed verification, recomputed root does not match", batchID)
		v.logger.Warn().
			Str("batch_id", batchID).
			Str("original", original).
			Str("recomputed", recomputed).
			Msg("Batch integrity check failed")
	}

	return report, nil
}

// VerifyAgainstLedger additionally compares the locally stored root
// with the root anchored on the ledger. It catches local tampering that
// rewrote both the records and their stored root consistently.
func (v *Verifier) VerifyAgainstLedger(ctx context.Context, batchID string) (*types.VerificationReport, error) {
	report, err := v.VerifyBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if v.ledger == nil {
		return report, nil
	}

	anchored, err := v.ledger.QueryBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger for batch %s: %w", batchID, err)
	}

	if anchored.MerkleRoot != report.RecomputedRoot {
		report.IsValid = false
		report.Integrity = types.IntegrityCorrupted
		report.OriginalRoot = anchored.MerkleRoot
		report.Message = fmt.Sprintf("batch %s does not match the root anchored on the ledger", batchID)
		v.logger.Warn().
			Str("batch_id", batchID).
			Str("anchored", anchored.MerkleRoot).
			Str("recomputed", report.RecomputedRoot).
			Msg("Ledger cross-check failed")
	} else if anchored.NumRecords != report.NumRecords {
		report.IsValid = false
		report.Integrity = types.IntegrityCorrupted
		report.Message = fmt.Sprintf("batch %s has %d records locally but %d on the ledger", batchID, report.NumRecords, anchored.NumRecords)
	}

	return report, nil
}
