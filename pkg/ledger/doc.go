/*
Package ledger anchors Merkle batches on an external permissioned
ledger.

The production implementation is FabricClient, which talks to a
Hyperledger Fabric Gateway peer over gRPC and drives the batch
chaincode: StoreMerkleRoot to anchor a batch and QueryMerkleBatch to
read it back for cross-verification. MemoryClient is the in-process
substitute used by tests. When ledger sync is disabled no client is
wired at all; batches are built and tagged but never anchored.

Anchoring is idempotent per batch id, so a batch left in pending_batch
by a failed anchor can be retried with the same id. IsRetriable
separates transient transport failures, where a retry is worthwhile,
from endorsement rejections, where it is not.
*/
package ledger
