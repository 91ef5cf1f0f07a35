package board

import (
	"fmt"
	"strings"

	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

// GameType selects the board layout.
type GameType uint8

const (
	TicTacToe GameType = 1
	Checkers  GameType = 2
)

// Cells returns the number of board positions, or 0 for an unknown type.
func (g GameType) Cells() int {
	switch g {
	case TicTacToe:
		return 9
	case Checkers:
		return 32
	}
	return 0
}

// Valid reports whether g is a known game type.
func (g GameType) Valid() bool { return g.Cells() > 0 }

func (g GameType) String() string {
	switch g {
	case TicTacToe:
		return "tictactoe"
	case Checkers:
		return "checkers"
	}
	return fmt.Sprintf("game(%d)", uint8(g))
}

// ParseGameType is the inverse of GameType.String.
func ParseGameType(s string) (GameType, error) {
	switch strings.ToLower(s) {
	case "tictactoe", "tic-tac-toe":
		return TicTacToe, nil
	case "checkers":
		return Checkers, nil
	}
	return 0, fmt.Errorf("unknown game type %q", s)
}

// allotment is the number of pieces each seat may ever have on the board.
func (g GameType) allotment() [2]int {
	switch g {
	case TicTacToe:
		return [2]int{5, 4}
	case Checkers:
		return [2]int{12, 12}
	}
	return [2]int{}
}

// PlayerSlot identifies a seat, not a wallet.
type PlayerSlot uint8

const (
	PlayerOne PlayerSlot = 0
	PlayerTwo PlayerSlot = 1
)

func (p PlayerSlot) Valid() bool { return p == PlayerOne || p == PlayerTwo }

// Opponent returns the other seat.
func (p PlayerSlot) Opponent() PlayerSlot { return 1 - p }

func (p PlayerSlot) String() string {
	switch p {
	case PlayerOne:
		return "player-one"
	case PlayerTwo:
		return "player-two"
	}
	return fmt.Sprintf("slot(%d)", uint8(p))
}

// Cell is the content of one board position.
type Cell uint8

const (
	Empty         Cell = 0
	PlayerOneMan  Cell = 1
	PlayerTwoMan  Cell = 2
	PlayerOneKing Cell = 3
	PlayerTwoKing Cell = 4
)

// Tic-tac-toe marks.
const (
	X = PlayerOneMan
	O = PlayerTwoMan
)

// Owner returns the seat owning the piece in c.
func (c Cell) Owner() (PlayerSlot, bool) {
	switch c {
	case PlayerOneMan, PlayerOneKing:
		return PlayerOne, true
	case PlayerTwoMan, PlayerTwoKing:
		return PlayerTwo, true
	}
	return 0, false
}

func (c Cell) IsKing() bool { return c == PlayerOneKing || c == PlayerTwoKing }

// Mark returns the plain piece of seat p.
func Mark(p PlayerSlot) Cell {
	if p == PlayerTwo {
		return PlayerTwoMan
	}
	return PlayerOneMan
}

func (c Cell) allowedIn(g GameType) bool {
	switch g {
	case TicTacToe:
		return c <= PlayerTwoMan
	case Checkers:
		return c <= PlayerTwoKing
	}
	return false
}

// StateFlags carry the game-end condition reported by the rules authority.
// At most one flag is set.
type StateFlags uint8

const (
	PlayerOneWins StateFlags = 1 << iota
	PlayerTwoWins
	Draw

	knownFlags = PlayerOneWins | PlayerTwoWins | Draw
)

// Terminal reports whether the flags describe a finished game.
func (f StateFlags) Terminal() bool { return f != 0 }

// Winner returns the winning seat, if any.
func (f StateFlags) Winner() (PlayerSlot, bool) {
	switch f {
	case PlayerOneWins:
		return PlayerOne, true
	case PlayerTwoWins:
		return PlayerTwo, true
	}
	return 0, false
}

// WinFor returns the flag announcing p as winner.
func WinFor(p PlayerSlot) StateFlags {
	if p == PlayerTwo {
		return PlayerTwoWins
	}
	return PlayerOneWins
}

func (f StateFlags) valid() bool {
	return f&^knownFlags == 0 && f&(f-1) == 0
}

// Board is the positional content of one game.
type Board struct {
	Type  GameType
	Cells []Cell
}

// NewBoard returns the starting position for g.
func NewBoard(g GameType) (Board, error) {
	if !g.Valid() {
		return Board{}, apperrors.WithMetadata(apperrors.CodeMalformedMove, "unknown game type",
			map[string]string{"game_type": g.String()})
	}
	b := Board{Type: g, Cells: make([]Cell, g.Cells())}
	if g == Checkers {
		for i := 0; i < 12; i++ {
			b.Cells[i] = PlayerOneMan
			b.Cells[len(b.Cells)-1-i] = PlayerTwoMan
		}
	}
	return b, nil
}

// Clone returns a deep copy of b.
func (b Board) Clone() Board {
	cells := make([]Cell, len(b.Cells))
	copy(cells, b.Cells)
	return Board{Type: b.Type, Cells: cells}
}

// Equal compares boards structurally.
func (b Board) Equal(o Board) bool {
	if b.Type != o.Type || len(b.Cells) != len(o.Cells) {
		return false
	}
	for i := range b.Cells {
		if b.Cells[i] != o.Cells[i] {
			return false
		}
	}
	return true
}

// Pieces counts the pieces owned by each seat.
func (b Board) Pieces() [2]int {
	var n [2]int
	for _, c := range b.Cells {
		if p, ok := c.Owner(); ok {
			n[p]++
		}
	}
	return n
}

// Validate checks size, cell values and the piece allotment.
func (b Board) Validate() error {
	if !b.Type.Valid() {
		return malformed("unknown game type", "game_type", b.Type.String())
	}
	if len(b.Cells) != b.Type.Cells() {
		return malformed("wrong cell count", "cells", fmt.Sprint(len(b.Cells)))
	}
	for i, c := range b.Cells {
		if !c.allowedIn(b.Type) {
			return malformed("cell value not allowed", "cell", fmt.Sprintf("%d=%d", i, c))
		}
	}
	limit := b.Type.allotment()
	for slot, n := range b.Pieces() {
		if n > limit[slot] {
			return malformed("piece count exceeds allotment", "slot", PlayerSlot(slot).String())
		}
	}
	return nil
}

func malformed(msg, key, value string) error {
	return apperrors.WithMetadata(apperrors.CodeMalformedMove, msg, map[string]string{key: value})
}
