/*
Package merkle implements the cryptographic primitives shared by batch
creation, batch verification and the ledger chaincode contract:

  - the canonical SHA-256 content hash of a record
  - the pairwise Merkle root reduction over an ordered list of hashes

The tree is the unbalanced-duplication variant: an odd level duplicates
its last node, pairs are combined as SHA-256 of the concatenated hex
strings, and a single-leaf tree's root is the leaf itself. No salting
or domain separation is applied; the ledger side implements the same
reduction, so both ends must stay byte-identical.

Hash input ordering within a batch is ascending created_at, the order
the store returns for both claim and verification queries.
*/
package merkle
