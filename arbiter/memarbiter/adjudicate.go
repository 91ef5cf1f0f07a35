package memarbiter

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

type ruling struct {
	draw    bool
	loser   board.PlayerSlot
	cheated bool
}

func (r ruling) events(s game.State) []game.Event {
	if r.draw {
		return []game.Event{game.GameFinished{Game: s.ID, Draw: true}}
	}
	events := []game.Event{game.GameFinished{
		Game:   s.ID,
		Winner: s.Players[r.loser.Opponent()].Owner,
		Loser:  s.Players[r.loser].Owner,
	}}
	if r.cheated {
		events = append(events, game.PlayerDisqualified{Game: s.ID, Cheater: s.Players[r.loser].Owner})
	}
	return events
}

func (r ruling) String() string {
	switch {
	case r.draw:
		return "draw"
	case r.cheated:
		return r.loser.String() + " disqualified"
	}
	return r.loser.String() + " loses"
}

func settle(flags board.StateFlags) ruling {
	if w, ok := flags.Winner(); ok {
		return ruling{loser: w.Opponent()}
	}
	return ruling{draw: true}
}

// position is the latest point of the game the evidence binds both seats to.
type position struct {
	board board.Board
	flags board.StateFlags
	nonce uint64
}

// owing is the seat expected to produce the next move.
func (p position) owing() board.PlayerSlot { return board.PlayerSlot(p.nonce % 2) }

// challenge is an open claim that accused stopped answering at nonce.
type challenge struct {
	challenger board.PlayerSlot
	accused    board.PlayerSlot
	nonce      uint64
	deadline   time.Time
}

// establish walks the evidence from the start of the game. A move signed by
// both seats is taken as is. A move signed by its mover alone must directly
// follow the position reached so far and is replayed through the rules
// authority; if the authority rejects it or computes a different state, its
// signer cheated and the returned ruling says so. Anything else is ignored.
func (a *Arbiter) establish(ctx context.Context, s game.State, ev consensus.Evidence) (position, *ruling, error) {
	pos := position{board: s.Board.Clone()}
	authority := a.rules[s.Rules]
	for _, m := range []*consensus.SignedMove{ev.Prior, ev.LastValid, ev.Offending} {
		if m == nil || m.Game != s.ID || m.Nonce <= pos.nonce || pos.flags.Terminal() {
			continue
		}
		if acknowledged(s, m) {
			if next, ok := decodePosition(s, m); ok {
				pos = next
			}
			continue
		}
		if m.Nonce != pos.nonce+1 || authority == nil || !authentic(s, m) {
			continue
		}
		mover := moverOf(m.Nonce)
		legal, err := replay(ctx, authority, pos, mover, m)
		if err != nil {
			return pos, nil, err
		}
		if !legal {
			return pos, &ruling{loser: mover, cheated: true}, nil
		}
		if next, ok := decodePosition(s, m); ok {
			pos = next
		}
	}
	return pos, nil, nil
}

// decide rules on a dispute once the position is known. It returns false
// when the accused seat still has time to answer.
//
// A finished position is settled by its flags. Without an open challenge a
// submitter owing the next move loses at once; otherwise a challenge is
// opened against the seat that owes it. A challenge is refuted by any
// position past the challenged nonce, which ends the game in a draw, and
// lost by the accused once its deadline passed.
func decide(pos position, submitter board.PlayerSlot, ch *challenge, now time.Time) (ruling, *challenge, bool) {
	switch {
	case pos.flags.Terminal():
		return settle(pos.flags), nil, true
	case ch != nil && pos.nonce > ch.nonce:
		return ruling{draw: true}, nil, true
	case ch != nil && now.Before(ch.deadline):
		return ruling{}, nil, false
	case ch != nil:
		return ruling{loser: ch.accused}, nil, true
	case pos.owing() == submitter:
		return ruling{loser: submitter}, nil, true
	}
	return ruling{}, &challenge{challenger: submitter, accused: pos.owing(), nonce: pos.nonce}, false
}

func moverOf(nonce uint64) board.PlayerSlot {
	return board.PlayerSlot((nonce - 1) % 2)
}

// authentic reports whether m carries a valid signature of the seat that
// produced it.
func authentic(s game.State, m *consensus.SignedMove) bool {
	if m.Nonce == 0 {
		return false
	}
	mover := moverOf(m.Nonce)
	return consensus.VerifySignature(*m, mover, s.Players[mover].Session) == nil
}

// acknowledged reports whether both seats validly signed m.
func acknowledged(s game.State, m *consensus.SignedMove) bool {
	if m.Nonce == 0 {
		return false
	}
	for slot, p := range s.Players {
		if consensus.VerifySignature(*m, board.PlayerSlot(slot), p.Session) != nil {
			return false
		}
	}
	return true
}

func decodePosition(s game.State, m *consensus.SignedMove) (position, bool) {
	b, f, err := board.Decode(m.State)
	if err != nil || b.Type != s.Board.Type {
		return position{}, false
	}
	return position{board: b, flags: f, nonce: m.Nonce}, true
}

func replay(ctx context.Context, authority consensus.RulesAuthority, pos position, mover board.PlayerSlot, m *consensus.SignedMove) (bool, error) {
	prior, err := board.Encode(pos.board, pos.flags)
	if err != nil {
		return false, fmt.Errorf("encode disputed position: %w", err)
	}
	v, err := authority.IsLegalMove(ctx, prior, mover, m.Move)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeAuthorityUnavailable, "rules authority unreachable during adjudication", err)
	}
	return v.Legal && bytes.Equal(v.State, m.State), nil
}
