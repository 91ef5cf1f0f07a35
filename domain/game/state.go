package game

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luca-patrignani/offchain-games/domain/board"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
	"github.com/luca-patrignani/offchain-games/signing"
)

// ID is assigned by the arbiter when a game is proposed.
type ID uint64

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Player binds a seat to the wallet that staked for it and to the session
// key that signs its moves.
type Player struct {
	Owner   common.Address   `json:"owner"`
	Session signing.Identity `json:"session"`
}

// OutcomeKind classifies how a game ended.
type OutcomeKind uint8

const (
	NoOutcome OutcomeKind = iota
	Win
	Draw
	Disqualified
)

func (k OutcomeKind) String() string {
	switch k {
	case NoOutcome:
		return "none"
	case Win:
		return "win"
	case Draw:
		return "draw"
	case Disqualified:
		return "disqualified"
	}
	return fmt.Sprintf("outcome(%d)", uint8(k))
}

// Outcome of a finished game. Winner is meaningful for Win and Disqualified;
// in the latter case the disqualified seat is Winner.Opponent().
type Outcome struct {
	Kind   OutcomeKind      `json:"kind"`
	Winner board.PlayerSlot `json:"winner"`
}

// Loser returns the losing seat, if any.
func (o Outcome) Loser() (board.PlayerSlot, bool) {
	if o.Kind == Win || o.Kind == Disqualified {
		return o.Winner.Opponent(), true
	}
	return 0, false
}

func (o Outcome) String() string {
	switch o.Kind {
	case Win:
		return o.Winner.String() + " wins"
	case Disqualified:
		return o.Winner.Opponent().String() + " disqualified"
	}
	return o.Kind.String()
}

// outcomeOf maps end-of-game flags reported by the rules authority.
func outcomeOf(f board.StateFlags) Outcome {
	if w, ok := f.Winner(); ok {
		return Outcome{Kind: Win, Winner: w}
	}
	if f == board.Draw {
		return Outcome{Kind: Draw}
	}
	return Outcome{}
}

// PendingDispute records a dispute filed but not yet adjudicated.
type PendingDispute struct {
	Ticket  string    `json:"ticket"`
	Trigger string    `json:"trigger"`
	Filed   time.Time `json:"filed"`
	// Deadline is set when the arbiter gave the accused seat a window to
	// answer.
	Deadline time.Time `json:"deadline,omitzero"`
}

// State is the local authoritative view of one game. It is a value: every
// change produces a new State and leaves the receiver untouched.
type State struct {
	ID      ID               `json:"id"`
	Nonce   uint64           `json:"nonce"`
	Players [2]Player        `json:"players"`
	Board   board.Board      `json:"board"`
	Flags   board.StateFlags `json:"flags"`
	Status  Status           `json:"status"`
	Outcome Outcome          `json:"outcome"`
	// Finalized is set once the arbiter has spoken; nothing changes afterwards.
	Finalized      bool            `json:"finalized"`
	PendingDispute *PendingDispute `json:"pending_dispute,omitempty"`
	Rules          common.Address  `json:"rules"`
	Stake          *uint256.Int    `json:"stake,omitempty"`
}

// New returns a freshly proposed game with the starting board of g.
func New(id ID, g board.GameType, rules common.Address, stake *uint256.Int) (State, error) {
	b, err := board.NewBoard(g)
	if err != nil {
		return State{}, err
	}
	if stake == nil {
		stake = uint256.NewInt(0)
	}
	return State{
		ID:     id,
		Board:  b,
		Status: Proposed,
		Rules:  rules,
		Stake:  stake.Clone(),
	}, nil
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.Board = s.Board.Clone()
	if s.Stake != nil {
		c.Stake = s.Stake.Clone()
	}
	if s.PendingDispute != nil {
		pd := *s.PendingDispute
		c.PendingDispute = &pd
	}
	for i := range c.Players {
		c.Players[i].Session.PublicKey = append([]byte(nil), s.Players[i].Session.PublicKey...)
	}
	return c
}

// Encoded returns the signed byte form of the board and flags.
func (s State) Encoded() ([]byte, error) {
	return board.Encode(s.Board, s.Flags)
}

// Turn returns the seat expected to produce the next transition.
func (s State) Turn() board.PlayerSlot {
	return board.PlayerSlot(s.Nonce % 2)
}

// SlotOf finds the seat whose owner or session key is addr.
func (s State) SlotOf(addr common.Address) (board.PlayerSlot, bool) {
	for i, p := range s.Players {
		if p.Owner == addr || p.Session.Address == addr {
			return board.PlayerSlot(i), true
		}
	}
	return 0, false
}

// WithStatus moves the state machine, failing on forbidden edges.
func (s State) WithStatus(to Status) (State, error) {
	if !s.Status.CanTransition(to) {
		return s, invalidTransition(s.Status, to)
	}
	c := s.Clone()
	c.Status = to
	return c, nil
}

// Advance installs the board the rules authority produced for the next
// nonce. A terminal board finishes the game without finalizing it.
func (s State) Advance(b board.Board, flags board.StateFlags) (State, error) {
	if !s.Status.Playable() {
		return s, apperrors.WithMetadata(apperrors.CodeIllegalMove, "game is not in play",
			map[string]string{"status": s.Status.String()})
	}
	if b.Type != s.Board.Type {
		return s, apperrors.WithMetadata(apperrors.CodeMalformedMove, "board type changed",
			map[string]string{"expected": s.Board.Type.String(), "got": b.Type.String()})
	}
	c := s.Clone()
	c.Nonce++
	c.Board = b.Clone()
	c.Flags = flags
	if flags.Terminal() {
		c.Status = Finished
		c.Outcome = outcomeOf(flags)
	}
	return c, nil
}

// WithDispute marks a dispute as filed.
func (s State) WithDispute(pd PendingDispute) (State, error) {
	c, err := s.WithStatus(Disputed)
	if err != nil {
		return s, err
	}
	c.PendingDispute = &pd
	return c, nil
}

// finalize applies an arbiter-reported outcome.
func (s State) finalize(o Outcome) (State, error) {
	c, err := s.WithStatus(Finished)
	if err != nil {
		return s, err
	}
	c.Outcome = o
	c.Finalized = true
	c.PendingDispute = nil
	return c, nil
}
