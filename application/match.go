package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/dispute"
	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/ledger"
	"github.com/luca-patrignani/offchain-games/metrics"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
	"github.com/luca-patrignani/offchain-games/sessionkey"
	"github.com/luca-patrignani/offchain-games/signing"
)

const (
	defaultMoveDeadline = 30 * time.Second
	// timeoutDisputeBudget bounds a dispute filed from the watchdog, which
	// has no caller context.
	timeoutDisputeBudget = 5 * time.Minute
)

// Deps are the collaborators a match is wired to.
type Deps struct {
	// Owner is the wallet of the local party.
	Owner     common.Address
	Arbiter   consensus.Arbiter
	Authority consensus.RulesAuthority
	// Keys registers session keys with the arbiter. Each party needs its
	// own manager.
	Keys      *sessionkey.Manager
	Transport consensus.Transport
}

// Match drives one game for the local party. It owns the consensus node,
// the move ledger, the session key, the dispute coordinator and the
// watchdog for the opponent's answers.
type Match struct {
	deps         Deps
	log          *slog.Logger
	metrics      *metrics.Metrics
	moveDeadline time.Duration
	engineOpts   []consensus.EngineOption
	disputeOpts  []dispute.Option

	validator   *consensus.Validator
	coordinator *dispute.Coordinator
	watchdog    *dispute.Watchdog

	mu      sync.Mutex
	state   game.State
	self    board.PlayerSlot
	key     *sessionkey.SessionKey
	node    *consensus.Node
	ledger  *ledger.Blockchain
	retired bool
	done    chan struct{}
}

type Option func(*Match)

func WithLogger(l *slog.Logger) Option {
	return func(m *Match) { m.log = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Match) { m.metrics = mt }
}

// WithMoveDeadline sets how long the opponent has to answer a move before
// a timeout dispute is filed.
func WithMoveDeadline(d time.Duration) Option {
	return func(m *Match) { m.moveDeadline = d }
}

// WithEngineOptions configures the transition engine.
func WithEngineOptions(opts ...consensus.EngineOption) Option {
	return func(m *Match) { m.engineOpts = append(m.engineOpts, opts...) }
}

// WithDisputeOptions configures the dispute coordinator.
func WithDisputeOptions(opts ...dispute.Option) Option {
	return func(m *Match) { m.disputeOpts = append(m.disputeOpts, opts...) }
}

func newMatch(deps Deps, opts ...Option) *Match {
	m := &Match{
		deps:         deps,
		log:          slog.Default(),
		moveDeadline: defaultMoveDeadline,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	engineOpts := append([]consensus.EngineOption{
		consensus.WithEngineLogger(m.log),
		consensus.WithEngineMetrics(m.metrics),
	}, m.engineOpts...)
	m.validator = consensus.NewValidator(consensus.NewEngine(deps.Authority, engineOpts...),
		consensus.WithValidatorLogger(m.log),
		consensus.WithValidatorMetrics(m.metrics),
	)
	disputeOpts := append([]dispute.Option{
		dispute.WithLogger(m.log),
		dispute.WithMetrics(m.metrics),
	}, m.disputeOpts...)
	m.coordinator = dispute.NewCoordinator(deps.Arbiter, deps.Owner, disputeOpts...)
	m.watchdog = dispute.NewWatchdog(m.moveDeadline, m.onTimeout)
	return m
}

// Propose opens a game on the arbiter and registers the proposer's session
// key. The match starts once the arbiter reports GameStarted through
// OnExternalEvent.
func Propose(ctx context.Context, deps Deps, g board.GameType, rules common.Address, stake *uint256.Int, opts ...Option) (*Match, error) {
	m := newMatch(deps, opts...)
	id, err := deps.Arbiter.ProposeGame(ctx, deps.Owner, rules, g, stake)
	if err != nil {
		return nil, fmt.Errorf("propose game: %w", err)
	}
	s, err := game.New(id, g, rules, stake)
	if err != nil {
		return nil, err
	}
	key, err := deps.Keys.Create(ctx, deps.Owner, id)
	if err != nil {
		return nil, err
	}
	s.Players[board.PlayerOne] = game.Player{Owner: deps.Owner, Session: key.Identity()}

	m.state, m.self, m.key = s, board.PlayerOne, key
	m.log = m.log.With("game", id, "seat", m.self)
	m.log.Info("game proposed", "board", g, "rules", rules.Hex())
	return m, nil
}

// Join accepts the game announced by proposal, registering the local
// session key in the same arbiter call. The match is active on return.
func Join(ctx context.Context, deps Deps, proposal game.GameProposed, opts ...Option) (*Match, error) {
	m := newMatch(deps, opts...)
	s, err := game.FromProposal(proposal)
	if err != nil {
		return nil, err
	}
	key, err := deps.Keys.Create(ctx, deps.Owner, proposal.Game,
		sessionkey.WithRegistrar(sessionkey.RegistrarFunc(deps.Arbiter.AcceptGame)))
	if err != nil {
		return nil, err
	}
	m.state, m.self, m.key = s, board.PlayerTwo, key
	m.log = m.log.With("game", proposal.Game, "seat", m.self)

	started := game.GameStarted{
		Game:     proposal.Game,
		Players:  [2]common.Address{proposal.Proposer, deps.Owner},
		Sessions: [2]signing.Identity{proposal.Session, key.Identity()},
		Stake:    proposal.Stake,
	}
	if _, err := m.OnExternalEvent(started); err != nil {
		return nil, err
	}
	return m, nil
}

// ID returns the game id.
func (m *Match) ID() game.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ID
}

// Self returns the local seat.
func (m *Match) Self() board.PlayerSlot { return m.self }

// Ledger returns the move log, or nil before the game started.
func (m *Match) Ledger() *ledger.Blockchain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger
}

// Done is closed once the arbiter has finalized the game.
func (m *Match) Done() <-chan struct{} { return m.done }

// Snapshot returns the current local state.
func (m *Match) Snapshot() game.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.node != nil {
		return m.node.Snapshot()
	}
	return m.state.Clone()
}

// ProposeMove signs the local move, sends it to the opponent and starts
// the deadline for the answer. A failed send leaves the move signed: the
// opponent either receives a retry or the deadline files a timeout dispute.
func (m *Match) ProposeMove(ctx context.Context, from, to uint8, flags board.MoveFlags) (consensus.SignedMove, error) {
	node, err := m.started()
	if err != nil {
		return consensus.SignedMove{}, err
	}
	sm, err := node.ProposeMove(ctx, from, to, flags)
	if err != nil {
		return consensus.SignedMove{}, err
	}
	m.watchdog.Arm(sm.Game, sm.Nonce)
	m.retireIfOver(node.Snapshot())
	if err := m.deps.Transport.Send(ctx, sm); err != nil {
		return sm, fmt.Errorf("relay move %d: %w", sm.Nonce, err)
	}
	return sm, nil
}

// OnPeerMove handles a message from the opponent: the acknowledgement of
// our move or the opponent's next move, which is countersigned and sent
// back. Evidence of cheating is escalated to the arbiter right away; the
// returned state then carries its ruling and the error the verification
// failure. Stale or foreign moves are returned as errors and change
// nothing.
func (m *Match) OnPeerMove(ctx context.Context, sm consensus.SignedMove) (game.State, error) {
	node, err := m.started()
	if err != nil {
		return m.Snapshot(), err
	}
	ack, err := node.OnPeerMove(ctx, sm)
	if err != nil {
		trigger, ok := dispute.TriggerFor(err)
		if !ok {
			return node.Snapshot(), err
		}
		m.log.Warn("peer move failed verification", "nonce", sm.Nonce, "trigger", trigger, "err", err)
		s, derr := m.escalate(ctx, trigger, &sm)
		return s, errors.Join(err, derr)
	}

	s := node.Snapshot()
	m.rearm(s)
	m.retireIfOver(s)
	if ack != nil {
		if err := m.deps.Transport.Send(ctx, *ack); err != nil {
			return s, fmt.Errorf("relay acknowledgement %d: %w", ack.Nonce, err)
		}
	}
	return s, nil
}

// OnExternalEvent folds an arbiter event into the match. GameStarted
// starts off-chain play; GameFinished and PlayerDisqualified are final.
// DisputeOpened stops play; when it accuses the local party of not
// answering and a later move exists, the match answers it in the
// background.
func (m *Match) OnExternalEvent(e game.Event) (game.State, error) {
	m.mu.Lock()
	var (
		s   game.State
		err error
	)
	if m.node == nil {
		if s, err = game.ApplyExternalEvent(m.state, e); err == nil {
			m.state = s
			if s.Status == game.Active {
				m.startLocked(s)
			}
		}
	} else {
		s, err = m.node.ApplyExternalEvent(e)
	}
	m.mu.Unlock()
	if err != nil {
		return s, err
	}
	m.log.Debug("arbiter event applied", "event", e.Name(), "status", s.Status)
	if opened, ok := e.(game.DisputeOpened); ok {
		m.watchdog.Disarm()
		if m.canAnswer(s, opened) {
			go m.answer(opened)
		}
	}
	m.retireIfOver(s)
	return s, nil
}

// Resign concedes the game. Before the opponent joined it cancels the
// proposal instead.
func (m *Match) Resign(ctx context.Context) (game.State, error) {
	s := m.Snapshot()
	if err := m.deps.Arbiter.Resign(ctx, s.ID, m.deps.Owner); err != nil {
		return s, err
	}
	ev := game.GameFinished{Game: s.ID, Draw: true}
	if s.Status != game.Proposed {
		ev = game.GameFinished{
			Game:   s.ID,
			Winner: s.Players[m.self.Opponent()].Owner,
			Loser:  m.deps.Owner,
		}
	}
	m.log.Info("resigned")
	return m.OnExternalEvent(ev)
}

// Settle asks the arbiter to finalize a game that ended on the board.
func (m *Match) Settle(ctx context.Context) (game.State, error) {
	s := m.Snapshot()
	if s.Status != game.Finished || s.Finalized {
		return s, apperrors.WithMetadata(apperrors.CodeInvalidStatusTransition, "only a game ended on the board can be settled",
			map[string]string{"game": s.ID.String(), "status": s.Status.String()})
	}
	return m.escalate(ctx, dispute.TriggerSettle, nil)
}

// Close stops the watchdog. The match state stays readable.
func (m *Match) Close() {
	m.watchdog.Disarm()
}

func (m *Match) started() (*consensus.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.node == nil {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidStatusTransition, "game has not started",
			map[string]string{"game": m.state.ID.String(), "status": m.state.Status.String()})
	}
	return m.node, nil
}

func (m *Match) startLocked(s game.State) {
	m.ledger = ledger.NewBlockchain(s.ID, s.Nonce)
	m.node = consensus.NewNode(s, m.self, m.key, m.validator, m.ledger, consensus.WithNodeLogger(m.log))
	m.log.Info("game started", "opponent", s.Players[m.self.Opponent()].Owner.Hex())
	m.rearm(s)
}

// rearm keeps a deadline running whenever the opponent owes the next move.
func (m *Match) rearm(s game.State) {
	if s.Status.Playable() && s.Turn() != m.self {
		m.watchdog.Arm(s.ID, s.Nonce)
		return
	}
	m.watchdog.Disarm()
}

func (m *Match) onTimeout(gameID game.ID, nonce uint64) {
	m.log.Warn("opponent missed the deadline", "nonce", nonce, "deadline", m.moveDeadline)
	ctx, cancel := context.WithTimeout(context.Background(), timeoutDisputeBudget)
	defer cancel()
	if _, err := m.escalate(ctx, dispute.TriggerTimeout, nil); err != nil {
		m.log.Error("timeout dispute failed", "nonce", nonce, "err", err)
	}
}

func (m *Match) canAnswer(s game.State, e game.DisputeOpened) bool {
	if s.Finalized {
		return false
	}
	if slot, ok := s.SlotOf(e.Accused); !ok || slot != m.self {
		return false
	}
	node, err := m.started()
	if err != nil {
		return false
	}
	lv, ok := node.LastValidMove()
	return ok && lv.Nonce > e.Nonce
}

// answer shows the arbiter that the game went on past the challenged move.
func (m *Match) answer(e game.DisputeOpened) {
	m.log.Warn("accused of not answering", "nonce", e.Nonce, "deadline", e.Deadline)
	ctx, cancel := context.WithDeadline(context.Background(), e.Deadline.Add(timeoutDisputeBudget))
	defer cancel()
	if _, err := m.escalate(ctx, dispute.TriggerAnswer, nil); err != nil {
		m.log.Error("answering the dispute failed", "nonce", e.Nonce, "err", err)
	}
}

// escalate stops off-chain play, files the dispute and applies the ruling.
func (m *Match) escalate(ctx context.Context, trigger dispute.Trigger, offending *consensus.SignedMove) (game.State, error) {
	node, err := m.started()
	if err != nil {
		return m.Snapshot(), err
	}
	m.watchdog.Disarm()
	s := node.Snapshot()
	if s.Finalized {
		return s, nil
	}
	if trigger != dispute.TriggerStateMismatch {
		offending = nil
	}
	ev := node.Evidence(offending)

	if s.Status.Playable() {
		pd := game.PendingDispute{
			Ticket:  dispute.TicketID(s.ID, trigger, ev),
			Trigger: string(trigger),
			Filed:   time.Now(),
		}
		if s, err = node.MarkDisputed(pd); err != nil {
			return s, err
		}
		m.retireIfOver(s)
	}

	ticket, err := m.coordinator.FileDispute(ctx, s.ID, trigger, ev)
	if err != nil {
		m.log.Error("dispute not adjudicated", "trigger", trigger, "err", err)
		return node.Snapshot(), err
	}
	for _, e := range ticket.Adjudication.Events {
		if s, err = node.ApplyExternalEvent(e); err != nil {
			return s, err
		}
	}
	m.log.Info("dispute adjudicated", "ticket", ticket.ID, "trigger", trigger, "outcome", s.Outcome.String())
	m.retireIfOver(s)
	return s, nil
}

// retireIfOver invalidates the session key once no further move may be
// signed, and closes Done when the arbiter has spoken.
func (m *Match) retireIfOver(s game.State) {
	if s.Status != game.Disputed && s.Status != game.Finished {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.retired {
		m.retired = true
		if err := m.deps.Keys.Invalidate(s.ID); err != nil {
			m.log.Warn("invalidating session key", "err", err)
		}
	}
	if s.Finalized {
		m.watchdog.Disarm()
		select {
		case <-m.done:
		default:
			close(m.done)
		}
	}
}
