package board

import "fmt"

// MoveFlags qualify a checkers ply.
type MoveFlags uint8

const (
	Capture MoveFlags = 1 << iota
	Promotion

	knownMoveFlags = Capture | Promotion
)

// NoCell is the From value of placement games such as tic-tac-toe.
const NoCell uint8 = 0xFF

// Move is a single ply. Moves are values; two moves are equal when all their
// fields are.
type Move struct {
	Game   GameType
	From   uint8
	To     uint8
	Flags  MoveFlags
	Player PlayerSlot
}

// Place builds a tic-tac-toe placement.
func Place(p PlayerSlot, cell uint8) Move {
	return Move{Game: TicTacToe, From: NoCell, To: cell, Player: p}
}

// Packed folds the move into a single value: from in bits 0-7, to in 8-15,
// flags in 16-23 and the acting seat in 24-31.
func (m Move) Packed() uint32 {
	return uint32(m.From) | uint32(m.To)<<8 | uint32(m.Flags)<<16 | uint32(m.Player)<<24
}

// Unpack is the inverse of Packed.
func Unpack(g GameType, v uint32) Move {
	return Move{
		Game:   g,
		From:   uint8(v),
		To:     uint8(v >> 8),
		Flags:  MoveFlags(v >> 16),
		Player: PlayerSlot(v >> 24),
	}
}

// Validate range-checks every field against the game type. It says nothing
// about legality, which only the rules authority decides.
func (m Move) Validate() error {
	if !m.Game.Valid() {
		return malformed("unknown game type", "game_type", m.Game.String())
	}
	if !m.Player.Valid() {
		return malformed("unknown player slot", "player", fmt.Sprint(uint8(m.Player)))
	}
	cells := m.Game.Cells()
	if int(m.To) >= cells {
		return malformed("destination cell out of range", "to", fmt.Sprint(m.To))
	}
	switch m.Game {
	case TicTacToe:
		if m.From != NoCell {
			return malformed("placement moves have no origin", "from", fmt.Sprint(m.From))
		}
		if m.Flags != 0 {
			return malformed("placement moves carry no flags", "flags", fmt.Sprint(uint8(m.Flags)))
		}
	case Checkers:
		if int(m.From) >= cells {
			return malformed("origin cell out of range", "from", fmt.Sprint(m.From))
		}
		if m.From == m.To {
			return malformed("origin equals destination", "from", fmt.Sprint(m.From))
		}
		if m.Flags&^knownMoveFlags != 0 {
			return malformed("unknown move flags", "flags", fmt.Sprint(uint8(m.Flags)))
		}
	}
	return nil
}

func (m Move) String() string {
	if m.From == NoCell {
		return fmt.Sprintf("%s@%d", m.Player, m.To)
	}
	return fmt.Sprintf("%s %d->%d flags=%d", m.Player, m.From, m.To, m.Flags)
}
