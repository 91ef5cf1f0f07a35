// Package ledger implements an append-only, hash-chained record of the signed
// moves exchanged in one game.
//
// # Core Components
//
// Blockchain: an append-only log of signed moves and acknowledgements with
// SHA256 hash chaining for tamper detection. It implements consensus.Ledger.
//
// Block: a single recorded move with its position in the chain.
//
// # Properties
//
// The ledger guarantees:
//   - Nonce continuity: every move carries the nonce after the previous one
//   - Acknowledgements only add signatures to the move right before them
//   - Tamper detection: any modification breaks the hash chain
//
// # Usage
//
// Create a blockchain when a game starts and hand it to the consensus node.
// The latest acknowledged move is the evidence submitted in a dispute.
package ledger
