package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/signing"
)

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// fakeAuthority plays tic-tac-toe placements. release, when set, makes every
// call wait until it is closed or the context ends.
type fakeAuthority struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	fail    error
	answer  []byte
}

func (a *fakeAuthority) IsLegalMove(ctx context.Context, prior []byte, slot board.PlayerSlot, move []byte) (Verdict, error) {
	a.mu.Lock()
	a.calls++
	release, fail, answer := a.release, a.fail, a.answer
	a.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		}
	}
	if fail != nil {
		return Verdict{}, fail
	}
	if answer != nil {
		return Verdict{Legal: true, State: answer}, nil
	}
	b, _, err := board.Decode(prior)
	if err != nil {
		return Verdict{}, err
	}
	m, err := board.DecodeMove(move)
	if err != nil {
		return Verdict{}, err
	}
	if b.Cells[m.To] != board.Empty {
		return Verdict{Legal: false}, nil
	}
	b.Cells[m.To] = board.Mark(slot)
	var flags board.StateFlags
	for _, l := range lines {
		c := b.Cells[l[0]]
		if c != board.Empty && c == b.Cells[l[1]] && c == b.Cells[l[2]] {
			owner, _ := c.Owner()
			flags = board.WinFor(owner)
		}
	}
	if flags == 0 && b.Pieces()[0]+b.Pieces()[1] == 9 {
		flags = board.Draw
	}
	out, err := board.Encode(b, flags)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Legal: true, State: out}, nil
}

func (a *fakeAuthority) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// memLedger accepts everything and keeps the entries for inspection.
type memLedger struct {
	mu      sync.Mutex
	entries []SignedMove
}

func (l *memLedger) Append(m SignedMove) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, m.Clone())
	return nil
}

func (l *memLedger) Verify() error { return nil }

type fixture struct {
	authority *fakeAuthority
	engine    *Engine
	validator *Validator
	keys      [2]signing.PrivateKey
	state     game.State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	scheme, err := signing.Lookup(signing.Secp256k1)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{authority: &fakeAuthority{}}
	for i := range f.keys {
		if f.keys[i], err = scheme.Generate(); err != nil {
			t.Fatal(err)
		}
	}
	f.engine = NewEngine(f.authority, WithAuthorityTimeout(time.Second))
	f.validator = NewValidator(f.engine)

	s, err := game.New(11, board.TicTacToe, common.HexToAddress("0x07c7"), nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err = game.ApplyExternalEvent(s, game.GameStarted{
		Game: 11,
		Players: [2]common.Address{
			common.HexToAddress("0xa11ce"),
			common.HexToAddress("0xb0b"),
		},
		Sessions: [2]signing.Identity{f.keys[0].Identity(), f.keys[1].Identity()},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.state = s
	return f
}

// play applies placements alternately from the fixture state and returns
// the resulting state together with the last signed move.
func (f *fixture) play(t *testing.T, cells ...uint8) (game.State, SignedMove) {
	t.Helper()
	s := f.state
	var last SignedMove
	for _, c := range cells {
		slot := s.Turn()
		sm, next, err := f.validator.Sign(context.Background(), board.Place(slot, c), s, f.keys[slot])
		if err != nil {
			t.Fatalf("play cell %d: %v", c, err)
		}
		s, last = next, sm
	}
	return s, last
}

func expectReason(t *testing.T, err error, want Reason) {
	t.Helper()
	var vf *VerificationFailed
	if !errors.As(err, &vf) {
		t.Fatalf("expected verification failure %s, got %v", want, err)
	}
	if vf.Reason != want {
		t.Fatalf("expected reason %s, got %s (%v)", want, vf.Reason, err)
	}
}

func cellsString(b board.Board) string {
	return fmt.Sprint(b.Cells)
}
