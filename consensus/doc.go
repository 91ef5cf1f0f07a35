// Package consensus implements the off-chain move protocol between the two
// players of a game. Each ply is derived through the rules authority, signed
// by the mover's session key, verified and countersigned by the opponent.
//
// # Core Components
//
// Engine: applies a move to a game state by consulting the external rules
// authority. It distinguishes illegal moves from an unreachable authority.
//
// Validator: signs locally derived transitions and verifies the opponent's
// signed moves by recomputing them.
//
// Node: the single writer of one game's state for the local party. It ties
// signing, verification, acknowledgement and the ledger together.
//
// RulesAuthority, Arbiter, Transport, Ledger: capability interfaces for the
// collaborators the protocol consumes.
//
// # Protocol
//
// The protocol follows these steps:
//  1. The mover derives the next state through the Engine and signs
//     keccak256(abi.encode(gameId, nonce, state))
//  2. The signed move is relayed to the opponent
//  3. The opponent checks game id, nonce, signature and recomputes the state
//  4. On success it countersigns the same digest and sends it back
//  5. Verification failures that prove misbehaviour are escalated to the
//     arbiter by the dispute package
//
// # Replay Protection
//
// A signed move carries the nonce of the state it produces and is accepted
// only when that nonce is exactly one above the local state's. The ply that
// produces nonce n+1 belongs to seat n mod 2.
package consensus
