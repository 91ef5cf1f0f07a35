package consensus

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/signing"
)

// Verdict is the rules authority's answer for one move.
type Verdict struct {
	Legal bool
	// State is the encoded resulting state. Only meaningful when Legal.
	State []byte
}

// RulesAuthority decides legality and computes resulting states. It is the
// only place game rules live; the protocol never second-guesses it.
type RulesAuthority interface {
	// IsLegalMove evaluates move, played by slot, against the encoded prior
	// state. An error means the authority could not be consulted at all and
	// says nothing about the move.
	IsLegalMove(ctx context.Context, prior []byte, slot board.PlayerSlot, move []byte) (Verdict, error)
}

// Adjudication is the arbiter's binding answer to a dispute, expressed as
// the lifecycle events it emitted.
type Adjudication struct {
	Game   game.ID
	Events []game.Event
}

// Arbiter manages the on-chain lifecycle of games and settles disputes.
type Arbiter interface {
	// ProposeGame opens a game played under rules and returns its id.
	ProposeGame(ctx context.Context, owner, rules common.Address, g board.GameType, stake *uint256.Int) (game.ID, error)

	// AcceptGame seats owner as the second player and registers its session
	// key in the same call.
	AcceptGame(ctx context.Context, gameID game.ID, owner common.Address, session signing.Identity, proof []byte) error

	// RegisterSessionKey binds session to owner for gameID only.
	RegisterSessionKey(ctx context.Context, gameID game.ID, owner common.Address, session signing.Identity, proof []byte) error

	// Resign concedes the game to the opponent.
	Resign(ctx context.Context, gameID game.ID, owner common.Address) error

	// DisputeMove submits evidence about the current position. Only moves
	// signed by both seats establish a position on their own; a move signed
	// by its mover alone is replayed from ev.Prior. A claim that the
	// opponent stopped answering is not ruled at once: the arbiter returns
	// apperrors.ErrDisputePending until the accused seat answered or its
	// response window closed.
	DisputeMove(ctx context.Context, submitter common.Address, gameID game.ID, ev Evidence) (Adjudication, error)
}

// Transport relays signed moves to the opponent.
type Transport interface {
	Send(ctx context.Context, m SignedMove) error
}

// Ledger keeps an append-only log of accepted moves and acknowledgements.
type Ledger interface {
	// Append records m. A move with the nonce of the latest entry and the
	// same state is an acknowledgement of it.
	Append(m SignedMove) error

	// Verify checks the integrity of the entire ledger.
	Verify() error
}

// Signer is the key a party signs its moves with.
type Signer interface {
	Identity() signing.Identity
	Sign(digest []byte) ([]byte, error)
}
