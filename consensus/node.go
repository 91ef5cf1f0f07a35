package consensus

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

// Node is one party's view of one game. It is the single writer of the
// game state: every mutation goes through its methods, one at a time, so a
// move for nonce N+1 is never signed or accepted while N is unresolved.
type Node struct {
	mu        sync.Mutex
	state     game.State
	self      board.PlayerSlot
	key       Signer
	validator *Validator
	ledger    Ledger
	log       *slog.Logger

	pending   *SignedMove
	lastValid *SignedMove
	acked     *SignedMove
}

type NodeOption func(*Node)

func WithNodeLogger(l *slog.Logger) NodeOption {
	return func(n *Node) { n.log = l }
}

// NewNode creates the consensus node of the local party.
//
// Parameters:
//   - initial: the game state to start from, normally Active at nonce 0
//   - self: the seat of the local party
//   - key: the session key registered for self
//   - v: validator used to sign and verify moves
//   - l: ledger recording every accepted move and acknowledgement
func NewNode(initial game.State, self board.PlayerSlot, key Signer, v *Validator, l Ledger, opts ...NodeOption) *Node {
	n := &Node{
		state:     initial.Clone(),
		self:      self,
		key:       key,
		validator: v,
		ledger:    l,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Self returns the local seat.
func (n *Node) Self() board.PlayerSlot { return n.self }

// ProposeMove signs the local player's move and returns it for relaying.
// The game waits for the opponent afterwards unless the move ended it.
func (n *Node) ProposeMove(ctx context.Context, from, to uint8, flags board.MoveFlags) (SignedMove, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	m := board.Move{Game: n.state.Board.Type, From: from, To: to, Flags: flags, Player: n.self}
	if n.pending != nil {
		return SignedMove{}, apperrors.WithMetadata(apperrors.CodeIllegalMove, "previous move not yet acknowledged",
			map[string]string{"game": n.state.ID.String(), "move": m.String()})
	}
	sm, next, err := n.validator.Sign(ctx, m, n.state, n.key)
	if err != nil {
		return SignedMove{}, err
	}
	if next.Status == game.Active {
		if next, err = next.WithStatus(game.AwaitingOpponent); err != nil {
			return SignedMove{}, err
		}
	}
	if err := n.ledger.Append(sm); err != nil {
		return SignedMove{}, err
	}
	n.state = next
	n.pending = &sm
	n.lastValid = &sm
	n.log.Info("move signed", "game", next.ID, "nonce", next.Nonce, "move", m.String(), "status", next.Status)
	return sm.Clone(), nil
}

// OnPeerMove ingests a message from the opponent. It is either the
// countersignature of our pending move or the opponent's next move. In the
// latter case the move is verified, applied, countersigned and the
// acknowledgement returned for relaying; the opponent's move also
// acknowledges any move of ours still pending.
//
// On error the state is unchanged.
func (n *Node) OnPeerMove(ctx context.Context, sm SignedMove) (*SignedMove, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pending != nil && sm.Nonce == n.pending.Nonce && sm.Game == n.state.ID {
		return nil, n.acceptAck(sm)
	}

	next, err := n.validator.Verify(ctx, n.state, sm, n.state.ID, n.state.Nonce+1)
	if err != nil {
		return nil, err
	}
	ack, err := n.validator.Countersign(sm, n.self, n.key)
	if err != nil {
		return nil, err
	}
	if next.Status == game.AwaitingOpponent {
		if next, err = next.WithStatus(game.Active); err != nil {
			return nil, err
		}
	}
	if err := n.ledger.Append(ack); err != nil {
		return nil, err
	}
	n.state = next
	n.pending = nil
	n.lastValid = &ack
	n.acked = &ack
	n.log.Info("peer move accepted", "game", next.ID, "nonce", next.Nonce, "status", next.Status)
	out := ack.Clone()
	return &out, nil
}

func (n *Node) acceptAck(ack SignedMove) error {
	if !bytes.Equal(ack.State, n.pending.State) || !bytes.Equal(ack.Move, n.pending.Move) {
		return failed(ReasonStateMismatch, "acknowledgement does not match the pending move", nil)
	}
	peer := n.self.Opponent()
	if err := VerifySignature(ack, peer, n.state.Players[peer].Session); err != nil {
		return err
	}
	own, _ := n.pending.SignatureOf(n.self)
	merged := n.pending.Clone()
	if s, ok := ack.SignatureOf(peer); ok {
		merged.Signatures = []Signature{own, s}
	}
	if err := n.ledger.Append(merged); err != nil {
		return err
	}
	if n.state.Status == game.AwaitingOpponent {
		next, err := n.state.WithStatus(game.Active)
		if err != nil {
			return err
		}
		n.state = next
	}
	n.pending = nil
	n.lastValid = &merged
	n.acked = &merged
	n.log.Debug("move acknowledged", "game", n.state.ID, "nonce", merged.Nonce)
	return nil
}

// Snapshot returns a copy of the current state.
func (n *Node) Snapshot() game.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Clone()
}

// LastValidMove returns the latest move this party accepted or signed.
func (n *Node) LastValidMove() (SignedMove, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastValid == nil {
		return SignedMove{}, false
	}
	return n.lastValid.Clone(), true
}

// LastAcknowledged returns the latest move carrying both signatures.
func (n *Node) LastAcknowledged() (SignedMove, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.acked == nil {
		return SignedMove{}, false
	}
	return n.acked.Clone(), true
}

// Evidence collects what this party holds for a dispute about the current
// position. offending may be nil.
func (n *Node) Evidence(offending *SignedMove) Evidence {
	n.mu.Lock()
	defer n.mu.Unlock()
	ev := Evidence{}
	if n.lastValid != nil {
		lv := n.lastValid.Clone()
		ev.LastValid = &lv
	}
	if n.acked != nil && (n.lastValid == nil || n.acked.Nonce < n.lastValid.Nonce) {
		prior := n.acked.Clone()
		ev.Prior = &prior
	}
	if offending != nil {
		o := offending.Clone()
		ev.Offending = &o
	}
	return ev
}

// Pending returns our move still waiting for acknowledgement.
func (n *Node) Pending() (SignedMove, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending == nil {
		return SignedMove{}, false
	}
	return n.pending.Clone(), true
}

// MarkDisputed moves the game to Disputed. Off-chain play stops.
func (n *Node) MarkDisputed(pd game.PendingDispute) (game.State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	next, err := n.state.WithDispute(pd)
	if err != nil {
		return n.state.Clone(), err
	}
	n.state = next
	n.pending = nil
	return next.Clone(), nil
}

// ApplyExternalEvent folds an arbiter event into the state.
func (n *Node) ApplyExternalEvent(e game.Event) (game.State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	next, err := game.ApplyExternalEvent(n.state, e)
	if err != nil {
		return n.state.Clone(), err
	}
	n.state = next
	if next.Status == game.Finished {
		n.pending = nil
	}
	return next.Clone(), nil
}
