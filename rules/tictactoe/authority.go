// Package tictactoe is an in-process rules authority for tic-tac-toe. It
// plays the part of the rules contract in tests and in the demo.
package tictactoe

import (
	"context"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/board"
)

const (
	size   = 3
	winLen = 3
)

// Authority implements consensus.RulesAuthority for tic-tac-toe placements.
type Authority struct{}

func New() *Authority { return &Authority{} }

// IsLegalMove places slot's mark on the target cell if it is free and the
// game is still open. A move that cannot be decoded is illegal, not an
// authority failure.
func (a *Authority) IsLegalMove(ctx context.Context, prior []byte, slot board.PlayerSlot, move []byte) (consensus.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return consensus.Verdict{}, err
	}
	b, flags, err := board.Decode(prior)
	if err != nil || b.Type != board.TicTacToe {
		return consensus.Verdict{Legal: false}, nil
	}
	m, err := board.DecodeMove(move)
	if err != nil || m.Game != board.TicTacToe || m.Player != slot {
		return consensus.Verdict{Legal: false}, nil
	}
	if flags.Terminal() || b.Cells[m.To] != board.Empty {
		return consensus.Verdict{Legal: false}, nil
	}

	next := b.Clone()
	next.Cells[m.To] = board.Mark(slot)

	var out board.StateFlags
	switch {
	case wins(next, int(m.To)):
		out = board.WinFor(slot)
	case full(next):
		out = board.Draw
	}
	state, err := board.Encode(next, out)
	if err != nil {
		return consensus.Verdict{Legal: false}, nil
	}
	return consensus.Verdict{Legal: true, State: state}, nil
}

// wins checks every line through idx for winLen equal marks.
func wins(b board.Board, idx int) bool {
	row, col := idx/size, idx%size
	mark := b.Cells[idx]
	if mark == board.Empty {
		return false
	}
	at := func(r, c int) board.Cell { return b.Cells[r*size+c] }

	dirs := [][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}
	for _, d := range dirs {
		count := 1

		fr, fc := row+d[0], col+d[1]
		for fr >= 0 && fr < size && fc >= 0 && fc < size && at(fr, fc) == mark {
			count++
			fr += d[0]
			fc += d[1]
		}

		br, bc := row-d[0], col-d[1]
		for br >= 0 && br < size && bc >= 0 && bc < size && at(br, bc) == mark {
			count++
			br -= d[0]
			bc -= d[1]
		}

		if count >= winLen {
			return true
		}
	}
	return false
}

func full(b board.Board) bool {
	for _, c := range b.Cells {
		if c == board.Empty {
			return false
		}
	}
	return true
}
