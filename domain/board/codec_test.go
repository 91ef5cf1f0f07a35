package board

import (
	"errors"
	"math/rand"
	"testing"

	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

// randomBoard fills a board with pieces while honouring the allotment.
func randomBoard(r *rand.Rand, g GameType) Board {
	b, _ := NewBoard(g)
	for i := range b.Cells {
		b.Cells[i] = Empty
	}
	limit := g.allotment()
	var placed [2]int
	values := []Cell{Empty, PlayerOneMan, PlayerTwoMan}
	if g == Checkers {
		values = append(values, PlayerOneKing, PlayerTwoKing)
	}
	for i := range b.Cells {
		c := values[r.Intn(len(values))]
		if p, ok := c.Owner(); ok {
			if placed[p] == limit[p] {
				continue
			}
			placed[p]++
		}
		b.Cells[i] = c
	}
	return b
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	flags := []StateFlags{0, PlayerOneWins, PlayerTwoWins, Draw}
	for _, g := range []GameType{TicTacToe, Checkers} {
		for i := 0; i < 200; i++ {
			b := randomBoard(r, g)
			f := flags[i%len(flags)]
			data, err := Encode(b, f)
			if err != nil {
				t.Fatalf("encode %v: %v", b, err)
			}
			if len(data) != stateHeaderLen+g.Cells() {
				t.Fatalf("expected fixed width %d, got %d", stateHeaderLen+g.Cells(), len(data))
			}
			got, gotFlags, err := Decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !got.Equal(b) || gotFlags != f {
				t.Fatalf("round trip mismatch: %v/%d != %v/%d", got, gotFlags, b, f)
			}
		}
	}
}

func TestNewBoardCheckers(t *testing.T) {
	b, err := NewBoard(Checkers)
	if err != nil {
		t.Fatal(err)
	}
	if p := b.Pieces(); p != [2]int{12, 12} {
		t.Fatalf("expected 12 pieces each, got %v", p)
	}
	if b.Cells[0] != PlayerOneMan || b.Cells[31] != PlayerTwoMan || b.Cells[15] != Empty {
		t.Fatalf("unexpected starting layout %v", b.Cells)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	empty, _ := NewBoard(TicTacToe)
	valid, err := Encode(empty, 0)
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(f func([]byte) []byte) []byte {
		c := append([]byte(nil), valid...)
		return f(c)
	}
	cases := map[string][]byte{
		"short":          valid[:3],
		"version":        mutate(func(b []byte) []byte { b[0] = 9; return b }),
		"game type":      mutate(func(b []byte) []byte { b[1] = 7; return b }),
		"two flags":      mutate(func(b []byte) []byte { b[2] = uint8(PlayerOneWins | Draw); return b }),
		"unknown flag":   mutate(func(b []byte) []byte { b[2] = 0x80; return b }),
		"cell count":     mutate(func(b []byte) []byte { b[3] = 8; return b }),
		"trailing":       append(append([]byte(nil), valid...), 0),
		"truncated":      valid[:len(valid)-1],
		"king in ttt":    mutate(func(b []byte) []byte { b[stateHeaderLen] = uint8(PlayerOneKing); return b }),
		"unknown cell":   mutate(func(b []byte) []byte { b[stateHeaderLen+2] = 9; return b }),
		"too many marks": mutate(func(b []byte) []byte { copy(b[stateHeaderLen:], []byte{2, 2, 2, 2, 2}); return b }),
	}
	for name, data := range cases {
		_, _, err := Decode(data)
		if !errors.Is(err, apperrors.ErrMalformedMove) {
			t.Fatalf("%s: expected malformed error, got %v", name, err)
		}
	}
}

func TestEncodeRejectsInvalidBoard(t *testing.T) {
	b := Board{Type: TicTacToe, Cells: make([]Cell, 8)}
	if _, err := Encode(b, 0); !errors.Is(err, apperrors.ErrMalformedMove) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	full, _ := NewBoard(TicTacToe)
	if _, err := Encode(full, PlayerOneWins|PlayerTwoWins); !errors.Is(err, apperrors.ErrMalformedMove) {
		t.Fatalf("expected malformed error for conflicting flags, got %v", err)
	}
}

func TestStateFlags(t *testing.T) {
	if w, ok := PlayerTwoWins.Winner(); !ok || w != PlayerTwo {
		t.Fatalf("expected player two to win")
	}
	if _, ok := Draw.Winner(); ok {
		t.Fatalf("a draw has no winner")
	}
	if !Draw.Terminal() || StateFlags(0).Terminal() {
		t.Fatalf("unexpected terminal flags")
	}
	if WinFor(PlayerOne) != PlayerOneWins {
		t.Fatalf("unexpected win flag")
	}
}
