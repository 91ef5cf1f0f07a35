package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

// Signature is one party's attestation over a SignedMove digest.
type Signature struct {
	Slot   board.PlayerSlot `json:"slot"`
	Signer common.Address   `json:"signer"`
	Sig    []byte           `json:"sig"`
}

// SignedMove asserts that applying Move to the state at Nonce-1 yields State.
// Nonce is the nonce of the resulting state.
type SignedMove struct {
	Game       game.ID     `json:"game"`
	Nonce      uint64      `json:"nonce"`
	Move       []byte      `json:"move"`
	State      []byte      `json:"state"`
	Signatures []Signature `json:"signatures"`
}

var digestArgs = func() abi.Arguments {
	u64, err := abi.NewType("uint64", "", nil)
	if err != nil {
		panic(err)
	}
	b, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: u64}, {Type: u64}, {Type: b}}
}()

// Digest is keccak256(abi.encode(uint64 gameID, uint64 nonce, bytes state)),
// the exact value every party signs.
func Digest(gameID game.ID, nonce uint64, state []byte) ([]byte, error) {
	packed, err := digestArgs.Pack(uint64(gameID), nonce, state)
	if err != nil {
		return nil, fmt.Errorf("pack digest: %w", err)
	}
	return crypto.Keccak256(packed), nil
}

// Digest returns the signed digest of m.
func (m SignedMove) Digest() ([]byte, error) {
	return Digest(m.Game, m.Nonce, m.State)
}

// Decode returns the move carried by m.
func (m SignedMove) Decode() (board.Move, error) {
	return board.DecodeMove(m.Move)
}

// SignatureOf returns the signature of slot, if present.
func (m SignedMove) SignatureOf(slot board.PlayerSlot) (Signature, bool) {
	for _, s := range m.Signatures {
		if s.Slot == slot {
			return s, true
		}
	}
	return Signature{}, false
}

// Acknowledged reports whether both seats signed.
func (m SignedMove) Acknowledged() bool {
	_, one := m.SignatureOf(board.PlayerOne)
	_, two := m.SignatureOf(board.PlayerTwo)
	return one && two
}

// Clone returns a deep copy.
func (m SignedMove) Clone() SignedMove {
	c := m
	c.Move = append([]byte(nil), m.Move...)
	c.State = append([]byte(nil), m.State...)
	c.Signatures = make([]Signature, len(m.Signatures))
	for i, s := range m.Signatures {
		s.Sig = append([]byte(nil), s.Sig...)
		c.Signatures[i] = s
	}
	return c
}

// Fingerprint identifies the signed content of m independently of which
// signatures it carries.
func (m SignedMove) Fingerprint() []byte {
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[:8], uint64(m.Game))
	binary.BigEndian.PutUint64(hdr[8:], m.Nonce)
	return crypto.Keccak256(hdr[:], m.Move, m.State)
}

// Evidence is what a party submits to the arbiter in a dispute.
type Evidence struct {
	// Prior is the latest move carrying both signatures when LastValid
	// does not. The arbiter replays LastValid from it.
	Prior *SignedMove `json:"prior,omitempty"`
	// LastValid is the latest move the submitter signed or accepted.
	LastValid *SignedMove `json:"lastValid,omitempty"`
	// Offending is the peer move that failed verification.
	Offending *SignedMove `json:"offending,omitempty"`
}

// Clone returns a deep copy.
func (e Evidence) Clone() Evidence {
	cp := func(m *SignedMove) *SignedMove {
		if m == nil {
			return nil
		}
		c := m.Clone()
		return &c
	}
	return Evidence{Prior: cp(e.Prior), LastValid: cp(e.LastValid), Offending: cp(e.Offending)}
}

// Reason distinguishes verification failures.
type Reason string

const (
	ReasonBadSignature  Reason = "bad-signature"
	ReasonStaleNonce    Reason = "stale-nonce"
	ReasonStateMismatch Reason = "state-mismatch"
	ReasonGameMismatch  Reason = "game-mismatch"
)

// Disputable reports whether the failure is evidence of misbehaviour.
// Stale nonces and foreign games may be honest delivery problems.
func (r Reason) Disputable() bool {
	return r == ReasonBadSignature || r == ReasonStateMismatch
}

// VerificationFailed is returned by Verify. It matches
// apperrors.ErrVerificationFailed and unwraps to the underlying cause, so a
// move the rules authority rejected still matches apperrors.ErrIllegalMove.
type VerificationFailed struct {
	Reason Reason
	Detail string
	Cause  error
}

func (e *VerificationFailed) Error() string {
	msg := "verification failed (" + string(e.Reason) + ")"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *VerificationFailed) Unwrap() error { return e.Cause }

func (e *VerificationFailed) Is(target error) bool {
	t, ok := target.(*apperrors.Error)
	return ok && t.Code == apperrors.CodeVerificationFailed
}

func failed(r Reason, detail string, cause error) *VerificationFailed {
	return &VerificationFailed{Reason: r, Detail: detail, Cause: cause}
}
