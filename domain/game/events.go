package game

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/signing"
)

// Event is a lifecycle event emitted by the arbiter.
type Event interface {
	GameID() ID
	Name() string
}

const (
	EventGameProposed       = "GameProposed"
	EventGameStarted        = "GameStarted"
	EventGameFinished       = "GameFinished"
	EventPlayerDisqualified = "PlayerDisqualified"
	EventDisputeOpened      = "DisputeOpened"
)

type GameProposed struct {
	Game     ID               `mapstructure:"gameId"`
	Proposer common.Address   `mapstructure:"proposer"`
	Rules    common.Address   `mapstructure:"rules"`
	Board    board.GameType   `mapstructure:"board"`
	Stake    *uint256.Int     `mapstructure:"stake"`
	Session  signing.Identity `mapstructure:"session"`
}

type GameStarted struct {
	Game     ID                  `mapstructure:"gameId"`
	Players  [2]common.Address   `mapstructure:"players"`
	Sessions [2]signing.Identity `mapstructure:"sessions"`
	Stake    *uint256.Int        `mapstructure:"stake"`
}

// GameFinished carries addresses rather than seats. Winner and Loser are
// zero on a draw.
type GameFinished struct {
	Game   ID             `mapstructure:"gameId"`
	Winner common.Address `mapstructure:"winner"`
	Loser  common.Address `mapstructure:"loser"`
	Draw   bool           `mapstructure:"draw"`
}

type PlayerDisqualified struct {
	Game    ID             `mapstructure:"gameId"`
	Cheater common.Address `mapstructure:"cheater"`
}

// DisputeOpened announces that Challenger claims Accused stopped answering
// at Nonce. Accused has until Deadline to submit a later position.
type DisputeOpened struct {
	Game       ID             `mapstructure:"gameId"`
	Challenger common.Address `mapstructure:"challenger"`
	Accused    common.Address `mapstructure:"accused"`
	Nonce      uint64         `mapstructure:"nonce"`
	Deadline   time.Time      `mapstructure:"deadline"`
}

func (e GameProposed) GameID() ID       { return e.Game }
func (e GameStarted) GameID() ID        { return e.Game }
func (e GameFinished) GameID() ID       { return e.Game }
func (e PlayerDisqualified) GameID() ID { return e.Game }
func (e DisputeOpened) GameID() ID      { return e.Game }

func (GameProposed) Name() string       { return EventGameProposed }
func (GameStarted) Name() string        { return EventGameStarted }
func (GameFinished) Name() string       { return EventGameFinished }
func (PlayerDisqualified) Name() string { return EventPlayerDisqualified }
func (DisputeOpened) Name() string      { return EventDisputeOpened }

// FromProposal builds the acceptor's initial view of a proposed game.
func FromProposal(e GameProposed) (State, error) {
	s, err := New(e.Game, e.Board, e.Rules, e.Stake)
	if err != nil {
		return State{}, err
	}
	s.Players[board.PlayerOne] = Player{Owner: e.Proposer, Session: e.Session}
	return s, nil
}
