package game

import (
	"fmt"

	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

// Status is the lifecycle position of a game as seen by the local party.
type Status uint8

const (
	Proposed Status = iota
	Active
	AwaitingOpponent
	Disputed
	Finished
)

func (s Status) String() string {
	switch s {
	case Proposed:
		return "proposed"
	case Active:
		return "active"
	case AwaitingOpponent:
		return "awaiting-opponent"
	case Disputed:
		return "disputed"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Finished to Finished is allowed so that an arbiter event can finalize an
// outcome the rules authority already reported.
var transitions = map[Status][]Status{
	Proposed:         {Active, Finished},
	Active:           {Active, AwaitingOpponent, Disputed, Finished},
	AwaitingOpponent: {Active, Disputed, Finished},
	Disputed:         {Finished},
	Finished:         {Finished},
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Playable reports whether moves may still be exchanged off-chain.
func (s Status) Playable() bool {
	return s == Active || s == AwaitingOpponent
}

func invalidTransition(from, to Status) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidStatusTransition,
		fmt.Sprintf("cannot move from %s to %s", from, to),
		map[string]string{"from": from.String(), "to": to.String()})
}
