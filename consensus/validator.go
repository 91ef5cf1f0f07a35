package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/metrics"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
	"github.com/luca-patrignani/offchain-games/signing"
)

// Validator signs locally derived transitions and verifies the opponent's.
type Validator struct {
	engine  *Engine
	log     *slog.Logger
	metrics *metrics.Metrics
}

type ValidatorOption func(*Validator)

func WithValidatorLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.log = l }
}

func WithValidatorMetrics(m *metrics.Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

func NewValidator(engine *Engine, opts ...ValidatorOption) *Validator {
	v := &Validator{engine: engine, log: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Sign derives the state resulting from m through the engine and signs it
// with key. Nothing is signed when the engine rejects the move.
// It returns the signed move and the derived state.
func (v *Validator) Sign(ctx context.Context, m board.Move, prior game.State, key Signer) (SignedMove, game.State, error) {
	if !m.Player.Valid() {
		return SignedMove{}, prior, m.Validate()
	}
	registered := prior.Players[m.Player].Session
	if !key.Identity().Equal(registered) {
		return SignedMove{}, prior, apperrors.WithMetadata(apperrors.CodeKeyInvalidated, "key is not the registered session key of the seat",
			map[string]string{"game": prior.ID.String(), "slot": m.Player.String()})
	}
	next, err := v.engine.Apply(ctx, prior, m)
	if err != nil {
		return SignedMove{}, prior, err
	}
	state, err := next.Encoded()
	if err != nil {
		return SignedMove{}, prior, err
	}
	moveBytes, err := board.EncodeMove(m)
	if err != nil {
		return SignedMove{}, prior, err
	}
	sm := SignedMove{
		Game:  next.ID,
		Nonce: next.Nonce,
		Move:  moveBytes,
		State: state,
	}
	sig, err := signDigest(sm, key)
	if err != nil {
		return SignedMove{}, prior, err
	}
	sm.Signatures = []Signature{{Slot: m.Player, Signer: key.Identity().Address, Sig: sig}}
	v.metrics.MoveSigned()
	return sm, next, nil
}

// Countersign adds slot's signature to a move already verified locally.
func (v *Validator) Countersign(sm SignedMove, slot board.PlayerSlot, key Signer) (SignedMove, error) {
	sig, err := signDigest(sm, key)
	if err != nil {
		return SignedMove{}, err
	}
	c := sm.Clone()
	out := c.Signatures[:0]
	for _, s := range c.Signatures {
		if s.Slot != slot {
			out = append(out, s)
		}
	}
	c.Signatures = append(out, Signature{Slot: slot, Signer: key.Identity().Address, Sig: sig})
	return c, nil
}

// Verify checks an opponent move against the local prior state and returns
// the state it leads to. prior is not modified on failure.
//
// A game that is no longer in play refuses every move with
// InvalidStatusTransition, which is not grounds for a dispute. Otherwise
// checks run in order: game id, nonce, the mover's signature against the
// session key registered for its seat, and finally independent
// recomputation through the engine. An unreachable rules authority is
// reported as AuthorityUnavailable, never as a verification failure.
func (v *Validator) Verify(ctx context.Context, prior game.State, sm SignedMove, expectedGame game.ID, expectedNonce uint64) (game.State, error) {
	next, err := v.verify(ctx, prior, sm, expectedGame, expectedNonce)
	if err != nil {
		var vf *VerificationFailed
		if errors.As(err, &vf) {
			v.metrics.VerificationFailed(string(vf.Reason))
			v.log.Warn("peer move rejected", "game", prior.ID, "nonce", sm.Nonce, "reason", vf.Reason, "error", err)
		}
		return prior, err
	}
	v.metrics.PeerMoveAccepted()
	return next, nil
}

func (v *Validator) verify(ctx context.Context, prior game.State, sm SignedMove, expectedGame game.ID, expectedNonce uint64) (game.State, error) {
	if !prior.Status.Playable() {
		return prior, apperrors.WithMetadata(apperrors.CodeInvalidStatusTransition, "game is not in play",
			map[string]string{"status": prior.Status.String(), "nonce": fmt.Sprint(sm.Nonce)})
	}
	if sm.Game != expectedGame {
		return prior, failed(ReasonGameMismatch, fmt.Sprintf("expected game %d, got %d", expectedGame, sm.Game), nil)
	}
	if sm.Nonce != expectedNonce {
		return prior, failed(ReasonStaleNonce, fmt.Sprintf("expected nonce %d, got %d", expectedNonce, sm.Nonce), nil)
	}
	mover := prior.Turn()
	if err := VerifySignature(sm, mover, prior.Players[mover].Session); err != nil {
		return prior, err
	}
	m, err := sm.Decode()
	if err != nil {
		return prior, failed(ReasonStateMismatch, "undecodable move", err)
	}
	next, err := v.engine.Apply(ctx, prior, m)
	if err != nil {
		if errors.Is(err, apperrors.ErrAuthorityUnavailable) {
			return prior, err
		}
		return prior, failed(ReasonStateMismatch, "move cannot be replayed", err)
	}
	computed, err := next.Encoded()
	if err != nil {
		return prior, failed(ReasonStateMismatch, "derived state cannot be encoded", err)
	}
	if !bytes.Equal(computed, sm.State) {
		return prior, failed(ReasonStateMismatch, "claimed state differs from recomputed state", nil)
	}
	return next, nil
}

// VerifySignature checks that sm carries a valid signature of slot made by
// the session key id.
func VerifySignature(sm SignedMove, slot board.PlayerSlot, id signing.Identity) error {
	s, ok := sm.SignatureOf(slot)
	if !ok {
		return failed(ReasonBadSignature, "missing signature of "+slot.String(), nil)
	}
	if s.Signer != id.Address {
		return failed(ReasonBadSignature, "signer is not the registered session key", nil)
	}
	digest, err := sm.Digest()
	if err != nil {
		return failed(ReasonBadSignature, "digest", err)
	}
	ok, err = signing.Verify(id, digest, s.Sig)
	if err != nil {
		return failed(ReasonBadSignature, "unreadable signature", err)
	}
	if !ok {
		return failed(ReasonBadSignature, "signature does not match", nil)
	}
	return nil
}

func signDigest(sm SignedMove, key Signer) ([]byte, error) {
	digest, err := sm.Digest()
	if err != nil {
		return nil, err
	}
	return key.Sign(digest)
}
