// Package memarbiter is an in-memory arbiter. It keeps the game registry,
// verifies session key registrations and adjudicates disputes the way the
// on-chain contract does, and fans its events out to subscribers.
package memarbiter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
	"github.com/luca-patrignani/offchain-games/sessionkey"
	"github.com/luca-patrignani/offchain-games/signing"
)

type record struct {
	state  game.State
	events []game.Event
	// challenge is set while an accused seat may still answer.
	challenge *challenge
	// verdict holds the events of the first adjudication.
	verdict *consensus.Adjudication
}

// DefaultResponseWindow is how long an accused seat has to answer a
// dispute.
const DefaultResponseWindow = 30 * time.Second

// Arbiter implements consensus.Arbiter in memory.
type Arbiter struct {
	log    *slog.Logger
	rules  map[common.Address]consensus.RulesAuthority
	window time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	nextID game.ID
	games  map[game.ID]*record
	subs   map[game.ID]map[chan game.Event]struct{}
}

type Option func(*Arbiter)

// WithRules installs the authority used to recompute disputed moves of
// games played under rules.
func WithRules(rules common.Address, a consensus.RulesAuthority) Option {
	return func(arb *Arbiter) { arb.rules[rules] = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(arb *Arbiter) { arb.log = l }
}

// WithResponseWindow sets how long an accused seat has to answer.
func WithResponseWindow(d time.Duration) Option {
	return func(arb *Arbiter) { arb.window = d }
}

// WithClock replaces the clock deadlines are measured with.
func WithClock(now func() time.Time) Option {
	return func(arb *Arbiter) { arb.now = now }
}

func New(opts ...Option) *Arbiter {
	a := &Arbiter{
		log:    slog.Default(),
		rules:  make(map[common.Address]consensus.RulesAuthority),
		window: DefaultResponseWindow,
		now:    time.Now,
		nextID: 1,
		games:  make(map[game.ID]*record),
		subs:   make(map[game.ID]map[chan game.Event]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProposeGame opens a game with owner in the first seat.
func (a *Arbiter) ProposeGame(ctx context.Context, owner, rules common.Address, g board.GameType, stake *uint256.Int) (game.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	id := a.nextID
	s, err := game.New(id, g, rules, stake)
	if err != nil {
		a.mu.Unlock()
		return 0, err
	}
	a.nextID++
	s.Players[board.PlayerOne].Owner = owner
	a.games[id] = &record{state: s}
	ev := game.GameProposed{Game: id, Proposer: owner, Rules: rules, Board: g, Stake: s.Stake.Clone()}
	a.emitLocked(id, ev)
	a.mu.Unlock()

	a.log.Info("game proposed", "game", id, "proposer", owner.Hex(), "board", g, "stake", s.Stake.Dec())
	return id, nil
}

// RegisterSessionKey binds the proposer's session key while the game is
// still open. The acceptor registers through AcceptGame.
func (a *Arbiter) RegisterSessionKey(ctx context.Context, gameID game.ID, owner common.Address, session signing.Identity, proof []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := a.gameLocked(gameID)
	if err != nil {
		return err
	}
	meta := map[string]string{"game": gameID.String(), "owner": owner.Hex()}
	if r.state.Status != game.Proposed {
		return apperrors.WithMetadata(apperrors.CodeRegistrationFailed, "game already started", meta)
	}
	if r.state.Players[board.PlayerOne].Owner != owner {
		return apperrors.WithMetadata(apperrors.CodeRegistrationFailed, "only the proposer registers before acceptance", meta)
	}
	if err := checkProof(gameID, owner, session, proof); err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeRegistrationFailed, "invalid proof of possession", meta, err)
	}
	r.state.Players[board.PlayerOne].Session = session
	a.emitLocked(gameID, game.GameProposed{
		Game:     gameID,
		Proposer: owner,
		Rules:    r.state.Rules,
		Board:    r.state.Board.Type,
		Stake:    r.state.Stake.Clone(),
		Session:  session,
	})
	return nil
}

// AcceptGame seats owner as PlayerTwo and starts the game.
func (a *Arbiter) AcceptGame(ctx context.Context, gameID game.ID, owner common.Address, session signing.Identity, proof []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := a.gameLocked(gameID)
	if err != nil {
		return err
	}
	meta := map[string]string{"game": gameID.String(), "owner": owner.Hex()}
	first := r.state.Players[board.PlayerOne]
	switch {
	case r.state.Status != game.Proposed:
		return apperrors.WithMetadata(apperrors.CodeRegistrationFailed, "game already started", meta)
	case first.Owner == owner:
		return apperrors.WithMetadata(apperrors.CodeRegistrationFailed, "proposer cannot accept its own game", meta)
	case first.Session.Scheme == "":
		return apperrors.WithMetadata(apperrors.CodeRegistrationFailed, "proposer has not registered a session key", meta)
	}
	if err := checkProof(gameID, owner, session, proof); err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeRegistrationFailed, "invalid proof of possession", meta, err)
	}

	r.state.Players[board.PlayerTwo] = game.Player{Owner: owner, Session: session}
	r.state.Status = game.Active
	a.emitLocked(gameID, game.GameStarted{
		Game:     gameID,
		Players:  [2]common.Address{first.Owner, owner},
		Sessions: [2]signing.Identity{first.Session, session},
		Stake:    r.state.Stake.Clone(),
	})
	a.log.Info("game started", "game", gameID, "acceptor", owner.Hex())
	return nil
}

// Resign concedes an active game. Resigning a game nobody accepted yet
// cancels it as a draw.
func (a *Arbiter) Resign(ctx context.Context, gameID game.ID, owner common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := a.gameLocked(gameID)
	if err != nil {
		return err
	}
	slot, ok := ownerSlot(r.state, owner)
	if !ok {
		return notPlayer(gameID, owner)
	}
	switch r.state.Status {
	case game.Proposed:
		a.finishLocked(r, []game.Event{game.GameFinished{Game: gameID, Draw: true}})
	case game.Active:
		a.finishLocked(r, []game.Event{game.GameFinished{
			Game:   gameID,
			Winner: r.state.Players[slot.Opponent()].Owner,
			Loser:  owner,
		}})
	default:
		return apperrors.WithMetadata(apperrors.CodeInvalidStatusTransition, "game is not in play",
			map[string]string{"game": gameID.String(), "status": r.state.Status.String()})
	}
	a.log.Info("player resigned", "game", gameID, "owner", owner.Hex())
	return nil
}

// DisputeMove adjudicates a dispute. Once a game is settled every further
// dispute returns the first adjudication unchanged.
//
// A claim that the opponent stopped answering opens a challenge and returns
// apperrors.ErrDisputePending. The accused seat refutes it by submitting a
// later position before the response window closes; after that, the next
// submission rules against it.
func (a *Arbiter) DisputeMove(ctx context.Context, submitter common.Address, gameID game.ID, ev consensus.Evidence) (consensus.Adjudication, error) {
	a.mu.RLock()
	r, err := a.gameLocked(gameID)
	if err != nil {
		a.mu.RUnlock()
		return consensus.Adjudication{}, err
	}
	if r.verdict != nil {
		v := *r.verdict
		a.mu.RUnlock()
		return v, nil
	}
	s := r.state.Clone()
	a.mu.RUnlock()

	meta := map[string]string{"game": gameID.String(), "status": s.Status.String()}
	if s.Status != game.Active && s.Status != game.Disputed {
		return consensus.Adjudication{}, apperrors.WithMetadata(apperrors.CodeDisputeRejected, "game is not in play", meta)
	}
	slot, ok := s.SlotOf(submitter)
	if !ok {
		return consensus.Adjudication{}, apperrors.Wrap(apperrors.CodeDisputeRejected, "submitter is not a player", notPlayer(gameID, submitter))
	}

	pos, cheat, err := a.establish(ctx, s, ev)
	if err != nil {
		return consensus.Adjudication{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if r.verdict != nil {
		return *r.verdict, nil
	}
	rl, ruled := ruling{}, true
	if cheat != nil {
		rl = *cheat
	} else {
		var opened *challenge
		rl, opened, ruled = decide(pos, slot, r.challenge, a.now())
		if opened != nil {
			opened.deadline = a.now().Add(a.window)
			a.openLocked(r, opened)
		}
	}
	if !ruled {
		ch := r.challenge
		meta["accused"] = ch.accused.String()
		meta["nonce"] = strconv.FormatUint(ch.nonce, 10)
		meta["deadline"] = ch.deadline.Format(time.RFC3339Nano)
		return consensus.Adjudication{}, apperrors.WithMetadata(apperrors.CodeDisputePending, "accused seat may still answer", meta)
	}
	a.finishLocked(r, rl.events(s))
	a.log.Info("dispute adjudicated", "game", gameID, "submitter", slot, "position", pos.nonce, "ruling", rl.String())
	return *r.verdict, nil
}

// openLocked records ch and announces it. Off-chain play stops.
func (a *Arbiter) openLocked(r *record, ch *challenge) {
	r.challenge = ch
	r.state.Status = game.Disputed
	a.emitLocked(r.state.ID, game.DisputeOpened{
		Game:       r.state.ID,
		Challenger: r.state.Players[ch.challenger].Owner,
		Accused:    r.state.Players[ch.accused].Owner,
		Nonce:      ch.nonce,
		Deadline:   ch.deadline,
	})
	a.log.Info("dispute opened", "game", r.state.ID, "challenger", ch.challenger, "accused", ch.accused,
		"nonce", ch.nonce, "deadline", ch.deadline)
}

// Game returns the arbiter's view of a game.
func (a *Arbiter) Game(gameID game.ID) (game.State, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, err := a.gameLocked(gameID)
	if err != nil {
		return game.State{}, err
	}
	return r.state.Clone(), nil
}

// Subscribe returns a channel receiving the events of gameID, starting with
// those already emitted. Slow receivers miss events.
func (a *Arbiter) Subscribe(gameID game.ID) (<-chan game.Event, func()) {
	a.mu.Lock()
	var history []game.Event
	if r, ok := a.games[gameID]; ok {
		history = append(history, r.events...)
	}
	ch := make(chan game.Event, len(history)+16)
	for _, e := range history {
		ch <- e
	}
	if _, ok := a.subs[gameID]; !ok {
		a.subs[gameID] = make(map[chan game.Event]struct{})
	}
	a.subs[gameID][ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if set, ok := a.subs[gameID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(a.subs, gameID)
				}
			}
			close(ch)
		})
	}
	return ch, unsub
}

func (a *Arbiter) gameLocked(gameID game.ID) (*record, error) {
	r, ok := a.games[gameID]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "unknown game",
			map[string]string{"game": gameID.String()})
	}
	return r, nil
}

func (a *Arbiter) finishLocked(r *record, events []game.Event) {
	r.state.Status = game.Finished
	r.challenge = nil
	r.verdict = &consensus.Adjudication{Game: r.state.ID, Events: events}
	for _, e := range events {
		a.emitLocked(r.state.ID, e)
	}
}

func (a *Arbiter) emitLocked(gameID game.ID, e game.Event) {
	if r, ok := a.games[gameID]; ok {
		r.events = append(r.events, e)
	}
	for ch := range a.subs[gameID] {
		select {
		case ch <- e:
		default:
			a.log.Warn("dropping event for slow subscriber", "game", gameID, "event", e.Name())
		}
	}
}

func checkProof(gameID game.ID, owner common.Address, session signing.Identity, proof []byte) error {
	ok, err := signing.Verify(session, sessionkey.ProofDigest(gameID, owner), proof)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proof does not match session key %s", session.Address.Hex())
	}
	return nil
}

func ownerSlot(s game.State, owner common.Address) (board.PlayerSlot, bool) {
	for i, p := range s.Players {
		if p.Owner == owner && owner != (common.Address{}) {
			return board.PlayerSlot(i), true
		}
	}
	return 0, false
}

func notPlayer(gameID game.ID, addr common.Address) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, "address is not a player of this game",
		map[string]string{"game": gameID.String(), "address": addr.Hex()})
}
