package game

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/offchain-games/domain/board"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

// ApplyExternalEvent folds an arbiter event into s.
//
// Arbiter outcomes are binding: they override whatever the local party
// derived, including a natural end already reported by the rules authority.
// Once finalized the state only accepts a PlayerDisqualified that names the
// loser already on record, which refines a win into a disqualification.
// Anything else after finalization is ignored. Replayed lifecycle events are
// no-ops.
func ApplyExternalEvent(s State, e Event) (State, error) {
	if e.GameID() != s.ID {
		return s, apperrors.WithMetadata(apperrors.CodeWrongGame, "event for another game",
			map[string]string{"game": s.ID.String(), "event_game": e.GameID().String()})
	}
	switch ev := e.(type) {
	case GameProposed:
		return applyProposed(s, ev), nil
	case GameStarted:
		return applyStarted(s, ev)
	case GameFinished:
		return applyFinished(s, ev)
	case PlayerDisqualified:
		return applyDisqualified(s, ev)
	case DisputeOpened:
		return applyDisputeOpened(s, ev)
	}
	return s, fmt.Errorf("unsupported event %s", e.Name())
}

func applyProposed(s State, e GameProposed) State {
	if s.Status != Proposed {
		return s
	}
	c := s.Clone()
	c.Players[board.PlayerOne].Owner = e.Proposer
	if e.Session.Scheme != "" {
		c.Players[board.PlayerOne].Session = e.Session
	}
	c.Rules = e.Rules
	if e.Stake != nil {
		c.Stake = e.Stake.Clone()
	}
	return c
}

func applyStarted(s State, e GameStarted) (State, error) {
	if s.Status != Proposed {
		return s, nil
	}
	c, err := s.WithStatus(Active)
	if err != nil {
		return s, err
	}
	for i := range c.Players {
		c.Players[i] = Player{Owner: e.Players[i], Session: e.Sessions[i]}
	}
	if e.Stake != nil {
		c.Stake = e.Stake.Clone()
	}
	return c, nil
}

func applyFinished(s State, e GameFinished) (State, error) {
	if s.Finalized {
		return s, nil
	}
	if e.Draw {
		return s.finalize(Outcome{Kind: Draw})
	}
	winner, err := s.resolveWinner(e.Winner, e.Loser)
	if err != nil {
		return s, err
	}
	return s.finalize(Outcome{Kind: Win, Winner: winner})
}

func applyDisqualified(s State, e PlayerDisqualified) (State, error) {
	cheater, ok := s.ownerSlot(e.Cheater)
	if !ok {
		return s, unknownPlayer(e.Cheater)
	}
	if s.Finalized {
		if loser, ok := s.Outcome.Loser(); ok && loser == cheater && s.Outcome.Kind == Win {
			c := s.Clone()
			c.Outcome.Kind = Disqualified
			return c, nil
		}
		return s, nil
	}
	return s.finalize(Outcome{Kind: Disqualified, Winner: cheater.Opponent()})
}

// applyDisputeOpened stops off-chain play while the arbiter waits for the
// accused seat. A party that already filed keeps its own ticket.
func applyDisputeOpened(s State, e DisputeOpened) (State, error) {
	if _, ok := s.ownerSlot(e.Accused); !ok {
		return s, unknownPlayer(e.Accused)
	}
	switch {
	case s.Status.Playable():
		return s.WithDispute(PendingDispute{Trigger: "timeout", Deadline: e.Deadline})
	case s.Status == Disputed && s.PendingDispute != nil:
		c := s.Clone()
		c.PendingDispute.Deadline = e.Deadline
		return c, nil
	}
	return s, nil
}

func (s State) resolveWinner(winner, loser common.Address) (board.PlayerSlot, error) {
	if slot, ok := s.ownerSlot(winner); ok {
		return slot, nil
	}
	if slot, ok := s.ownerSlot(loser); ok {
		return slot.Opponent(), nil
	}
	return 0, unknownPlayer(winner)
}

// ownerSlot matches owner wallets first, then session keys.
func (s State) ownerSlot(addr common.Address) (board.PlayerSlot, bool) {
	if addr == (common.Address{}) {
		return 0, false
	}
	return s.SlotOf(addr)
}

func unknownPlayer(addr common.Address) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, "address is not a player of this game",
		map[string]string{"address": addr.Hex()})
}
