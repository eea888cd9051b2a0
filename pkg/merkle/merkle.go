package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ledgerlog/ledgerlog/pkg/types"
)

// HashRecord computes the canonical SHA-256 content hash of a record:
// the concatenation of id, timestamp, source, level and message,
// followed by the JSON-marshaled metadata when non-empty and the
// stacktrace when non-empty, encoded as lowercase hex.
//
// encoding/json marshals map keys in sorted order, so the metadata
// contribution is deterministic across processes.
func HashRecord(r *types.Record) string {
	content := r.ID + r.Timestamp + r.Source + string(r.Level) + r.Message

	if len(r.Metadata) > 0 {
		if meta, err := json.Marshal(r.Metadata); err == nil {
			content += string(meta)
		}
	}

	if r.Stacktrace != "" {
		content += r.Stacktrace
	}

	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CombineHashes combines two hex hashes by hashing their string
// concatenation with SHA-256.
func CombineHashes(a, b string) string {
	sum := sha256.Sum256([]byte(a + b))
	return hex.EncodeToString(sum[:])
}

// Root reduces an ordered list of record hashes to the Merkle root.
// A single hash is its own root. When a level has an odd number of
// nodes the last one is duplicated. The input slice is not modified.
func Root(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	if len(hashes) == 1 {
		return hashes[0]
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, CombineHashes(level[i], level[i+1]))
		}
		level = next
	}

	return level[0]
}

// RootOfRecords hashes each record and reduces to the Merkle root,
// preserving the given order. It returns the root and the leaf hashes.
func RootOfRecords(records []*types.Record) (string, []string) {
	hashes := make([]string, len(records))
	for i, r := range records {
		hashes[i] = HashRecord(r)
	}
	return Root(hashes), hashes
}
