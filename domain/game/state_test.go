package game

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luca-patrignani/offchain-games/domain/board"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
	"github.com/luca-patrignani/offchain-games/signing"
)

var (
	alice        = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob          = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	aliceSession = signing.Identity{Scheme: signing.Secp256k1, Address: common.HexToAddress("0x5e55000000000000000000000000000000000001")}
	bobSession   = signing.Identity{Scheme: signing.Secp256k1, Address: common.HexToAddress("0x5e55000000000000000000000000000000000002")}
	rules        = common.HexToAddress("0x00000000000000000000000000000000000007c7")
)

func activeGame(t *testing.T) State {
	t.Helper()
	s, err := New(7, board.TicTacToe, rules, uint256.NewInt(100))
	if err != nil {
		t.Fatal(err)
	}
	s, err = ApplyExternalEvent(s, GameStarted{
		Game:     7,
		Players:  [2]common.Address{alice, bob},
		Sessions: [2]signing.Identity{aliceSession, bobSession},
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != Active {
		t.Fatalf("expected active game, got %s", s.Status)
	}
	return s
}

func TestStatusTransitions(t *testing.T) {
	allowed := [][2]Status{
		{Proposed, Active},
		{Active, AwaitingOpponent},
		{AwaitingOpponent, Active},
		{Active, Disputed},
		{AwaitingOpponent, Disputed},
		{Disputed, Finished},
		{Active, Finished},
	}
	for _, tr := range allowed {
		if !tr[0].CanTransition(tr[1]) {
			t.Fatalf("expected %s -> %s to be allowed", tr[0], tr[1])
		}
	}
	forbidden := [][2]Status{
		{Proposed, AwaitingOpponent},
		{Disputed, Active},
		{Finished, Active},
		{Finished, Disputed},
		{Proposed, Disputed},
	}
	for _, tr := range forbidden {
		if tr[0].CanTransition(tr[1]) {
			t.Fatalf("expected %s -> %s to be forbidden", tr[0], tr[1])
		}
	}
}

func TestWithStatusRejectsForbiddenEdge(t *testing.T) {
	s := activeGame(t)
	s, err := s.WithStatus(Disputed)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.WithStatus(Active)
	if !errors.Is(err, apperrors.ErrInvalidStatusTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestAdvanceIncrementsNonceWithoutMutatingPrior(t *testing.T) {
	s := activeGame(t)
	next := s.Board.Clone()
	next.Cells[4] = board.X
	after, err := s.Advance(next, 0)
	if err != nil {
		t.Fatal(err)
	}
	if after.Nonce != 1 || s.Nonce != 0 {
		t.Fatalf("expected nonce 0 -> 1, got %d -> %d", s.Nonce, after.Nonce)
	}
	if s.Board.Cells[4] != board.Empty {
		t.Fatalf("prior state was mutated")
	}
	if after.Turn() != board.PlayerTwo {
		t.Fatalf("expected player two to move next")
	}
}

func TestAdvanceTerminalFinishes(t *testing.T) {
	s := activeGame(t)
	after, err := s.Advance(s.Board.Clone(), board.Draw)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != Finished || after.Outcome.Kind != Draw || after.Finalized {
		t.Fatalf("unexpected terminal state %+v", after)
	}
}

func TestAdvanceRequiresPlayableStatus(t *testing.T) {
	s, _ := New(1, board.TicTacToe, rules, nil)
	if _, err := s.Advance(s.Board, 0); !errors.Is(err, apperrors.ErrIllegalMove) {
		t.Fatalf("expected illegal move on proposed game, got %v", err)
	}
}

func TestSlotOf(t *testing.T) {
	s := activeGame(t)
	if slot, ok := s.SlotOf(bob); !ok || slot != board.PlayerTwo {
		t.Fatalf("expected bob in seat two")
	}
	if slot, ok := s.SlotOf(aliceSession.Address); !ok || slot != board.PlayerOne {
		t.Fatalf("expected alice's session key in seat one")
	}
	if _, ok := s.SlotOf(rules); ok {
		t.Fatalf("rules contract is not a player")
	}
}
