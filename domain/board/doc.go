// Package board defines the board and move representations shared by both
// players, the rules authority and the arbiter, together with the fixed
// binary layout they are signed in.
//
// # Core Types
//
// Board: an ordered, fixed-size sequence of cells whose length depends on the
// game type (9 for tic-tac-toe, 32 playable squares for checkers).
//
// Move: a single ply, from cell, to cell, capture/promotion flags and the
// acting seat.
//
// # Layout
//
// Every encoding starts with a version byte and the game type, followed by
// fixed-width fields only. A state is
//
//	[version][game type][state flags][cell count][cell 0] ... [cell n-1]
//
// and a move is
//
//	[version][game type][player][flags][to][from]
//
// where the last four bytes are the big-endian form of Move.Packed. Decoding
// is strict: trailing bytes, unknown cell values or out-of-range indices are
// rejected as malformed so that two different byte strings never decode to
// the same value.
package board
