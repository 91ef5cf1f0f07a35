package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luca-patrignani/offchain-games/application"
	"github.com/luca-patrignani/offchain-games/arbiter/memarbiter"
	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/dispute"
	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/metrics"
	"github.com/luca-patrignani/offchain-games/network"
	"github.com/luca-patrignani/offchain-games/platform/config"
	"github.com/luca-patrignani/offchain-games/rules/tictactoe"
	"github.com/luca-patrignani/offchain-games/sessionkey"
	"github.com/luca-patrignani/offchain-games/signing"
)

// mode selects how the bot in the second seat behaves.
type mode string

const (
	modeHonest mode = "honest"
	// modeCheat forges the bot's first move with an extra mark.
	modeCheat mode = "cheat"
	// modeSilent takes the seat and never answers.
	modeSilent mode = "silent"
)

const pollInterval = 10 * time.Millisecond

var wallets = [2]common.Address{
	common.HexToAddress("0x000000000000000000000000000000000000a11c"),
	common.HexToAddress("0x0000000000000000000000000000000000000b0b"),
}

// chooser picks the cell for the first seat.
type chooser func(game.State) (uint8, error)

// run plays one tic-tac-toe game between two local parties connected by
// mutual TLS peers and an in-memory arbiter, and returns the final state of
// the first seat.
func run(ctx context.Context, cfg config.Config, md mode, logger *slog.Logger, mt *metrics.Metrics, choose chooser) (game.State, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return game.State{}, err
	}
	entry, ok := catalog.Lookup("tictactoe")
	if !ok {
		return game.State{}, errors.New("catalog has no tictactoe entry")
	}
	g, err := board.ParseGameType(entry.Board)
	if err != nil {
		return game.State{}, err
	}
	rules, err := entry.RulesAddress()
	if err != nil {
		return game.State{}, err
	}
	stake, err := entry.StakeAmount()
	if err != nil {
		return game.State{}, err
	}
	scheme, err := signing.Lookup(cfg.SessionScheme)
	if err != nil {
		return game.State{}, err
	}

	arb := memarbiter.New(
		memarbiter.WithRules(rules, tictactoe.New()),
		memarbiter.WithLogger(logger.With("component", "arbiter")),
		memarbiter.WithResponseWindow(cfg.DisputeResponseWindow),
	)
	peers, err := connect(cfg, logger)
	if err != nil {
		return game.State{}, err
	}
	defer func() {
		for _, p := range peers {
			if err := p.Close(); err != nil {
				logger.Warn("closing peer", "rank", p.Rank, "err", err)
			}
		}
	}()

	var keys [2]*sessionkey.Manager
	deps := make([]application.Deps, 2)
	for i := range deps {
		keys[i] = sessionkey.NewManager(scheme, arb,
			sessionkey.WithLogger(logger.With("party", i)),
			sessionkey.WithMetrics(mt),
		)
		deps[i] = application.Deps{
			Owner:     wallets[i],
			Arbiter:   arb,
			Authority: tictactoe.New(),
			Keys:      keys[i],
			Transport: peers[i],
		}
	}
	matchOpts := func(party int) []application.Option {
		return []application.Option{
			application.WithLogger(logger.With("party", party)),
			application.WithMetrics(mt),
			application.WithMoveDeadline(cfg.ResponseDeadline),
			application.WithEngineOptions(consensus.WithAuthorityTimeout(cfg.AuthorityTimeout)),
			application.WithDisputeOptions(
				dispute.WithBackoff(cfg.DisputeInitialInterval, cfg.DisputeMaxInterval, cfg.DisputeMaxElapsed),
				dispute.WithCallTimeout(cfg.ArbiterCallTimeout),
			),
		}
	}

	alice, err := application.Propose(ctx, deps[0], g, rules, stake, matchOpts(0)...)
	if err != nil {
		return game.State{}, err
	}
	defer alice.Close()
	aliceLogs, unsubAlice := arb.SubscribeLogs(alice.ID())
	defer unsubAlice()
	bobLogs, unsubBob := arb.SubscribeLogs(alice.ID())
	defer unsubBob()

	proposal, err := awaitProposal(ctx, bobLogs, cfg.ResponseDeadline, logger)
	if err != nil {
		return game.State{}, err
	}
	bob, err := application.Join(ctx, deps[1], proposal, matchOpts(1)...)
	if err != nil {
		return game.State{}, err
	}
	defer bob.Close()
	if md == modeSilent {
		// The bot is gone: no deadline of its own and nothing answered.
		bob.Close()
	}

	go pump(ctx, alice, peers[0].Moves(), aliceLogs, false, logger)
	go pump(ctx, bob, peers[1].Moves(), bobLogs, md == modeSilent, logger)

	if err := waitFor(ctx, cfg.ResponseDeadline, func() bool { return alice.Snapshot().Status == game.Active }); err != nil {
		return game.State{}, fmt.Errorf("waiting for the game to start: %w", err)
	}

	// Long enough for a timeout dispute to be filed, left unanswered and
	// adjudicated.
	patience := cfg.ResponseDeadline + cfg.DisputeResponseWindow + cfg.DisputeMaxElapsed + cfg.ArbiterCallTimeout
	for nonce := uint64(1); ; nonce++ {
		s := alice.Snapshot()
		if !s.Status.Playable() {
			break
		}
		switch {
		case s.Turn() == board.PlayerOne:
			cell, err := choose(s)
			if err != nil {
				return alice.Snapshot(), err
			}
			if _, err := alice.ProposeMove(ctx, board.NoCell, cell, 0); err != nil {
				return alice.Snapshot(), err
			}
		case md == modeCheat:
			if err := cheat(ctx, bob, keys[1], peers[1]); err != nil {
				return alice.Snapshot(), err
			}
		default:
			if _, err := bob.ProposeMove(ctx, board.NoCell, firstFree(bob.Snapshot().Board), 0); err != nil {
				return alice.Snapshot(), err
			}
		}
		if err := waitFor(ctx, patience, func() bool {
			return alice.Snapshot().Finalized || (acknowledged(alice) >= nonce && acknowledged(bob) >= nonce)
		}); err != nil {
			return alice.Snapshot(), fmt.Errorf("waiting for move %d: %w", nonce, err)
		}
	}

	if s := alice.Snapshot(); s.Status == game.Finished && !s.Finalized {
		if _, err := alice.Settle(ctx); err != nil {
			return alice.Snapshot(), err
		}
	}
	for _, m := range []*application.Match{alice, bob} {
		select {
		case <-m.Done():
		case <-time.After(patience):
			return alice.Snapshot(), fmt.Errorf("seat %s never saw the ruling", m.Self())
		}
	}
	if l := alice.Ledger(); l != nil {
		if err := l.Verify(); err != nil {
			return alice.Snapshot(), fmt.Errorf("move log corrupted: %w", err)
		}
	}
	return alice.Snapshot(), nil
}

// connect starts one mutual TLS peer per party on a free local port.
func connect(cfg config.Config, logger *slog.Logger) ([2]network.Peer, error) {
	var peers [2]network.Peer
	listeners, addresses := network.CreateListeners(2)
	certs := make([]tls.Certificate, 2)
	pems := make([][]byte, 2)
	for i := range certs {
		cert, pem, err := network.GenerateSelfSignedCert(addresses[i])
		if err != nil {
			closeAll(listeners)
			return peers, err
		}
		certs[i], pems[i] = cert, pem
	}
	pool, err := network.CertPool(pems...)
	if err != nil {
		closeAll(listeners)
		return peers, err
	}
	for i := range peers {
		peers[i] = network.NewPeerWithOptions(i, addresses,
			network.WithTimeout(cfg.ResponseDeadline),
			network.WithLogger(logger.With("party", i, "component", "peer")),
			network.WithCertificate(certs[i]),
			network.WithLimitedCAs(pool),
		)
		peers[i].Start(listeners[i])
	}
	return peers, nil
}

func closeAll(listeners map[int]net.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}

// decodeLog turns an arbiter log into an event, logging what cannot be read.
func decodeLog(l memarbiter.Log, logger *slog.Logger) (game.Event, bool) {
	e, err := game.DecodeEvent(l.Name, l.Args)
	if err != nil {
		logger.Warn("arbiter log undecodable", "event", l.Name, "err", err)
		return nil, false
	}
	return e, true
}

func awaitProposal(ctx context.Context, logs <-chan memarbiter.Log, timeout time.Duration, logger *slog.Logger) (game.GameProposed, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case l, ok := <-logs:
			if !ok {
				return game.GameProposed{}, errors.New("arbiter subscription closed")
			}
			e, ok := decodeLog(l, logger)
			if !ok {
				continue
			}
			if p, ok := e.(game.GameProposed); ok && p.Session.Scheme != "" {
				return p, nil
			}
		case <-timer.C:
			return game.GameProposed{}, errors.New("proposal never announced")
		case <-ctx.Done():
			return game.GameProposed{}, ctx.Err()
		}
	}
}

// pump feeds one party with the opponent's messages and the arbiter's
// decoded logs until ctx ends. A deaf party drops every move.
func pump(ctx context.Context, m *application.Match, moves <-chan consensus.SignedMove, logs <-chan memarbiter.Log, deaf bool, logger *slog.Logger) {
	log := logger.With("seat", m.Self())
	for {
		select {
		case <-ctx.Done():
			return
		case sm := <-moves:
			if deaf {
				log.Debug("move ignored", "nonce", sm.Nonce)
				continue
			}
			if _, err := m.OnPeerMove(ctx, sm); err != nil {
				log.Warn("peer move rejected", "nonce", sm.Nonce, "err", err)
			}
		case l, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			e, ok := decodeLog(l, log)
			if !ok {
				continue
			}
			if _, err := m.OnExternalEvent(e); err != nil {
				log.Warn("arbiter event rejected", "event", e.Name(), "err", err)
			}
		}
	}
}

// cheat sends a move claiming two new marks for the second seat.
func cheat(ctx context.Context, bob *application.Match, keys *sessionkey.Manager, peer network.Peer) error {
	s := bob.Snapshot()
	b := s.Board.Clone()
	first := firstFree(b)
	b.Cells[first] = board.O
	b.Cells[firstFree(b)] = board.O
	state, err := board.Encode(b, 0)
	if err != nil {
		return err
	}
	mv, err := board.EncodeMove(board.Place(board.PlayerTwo, first))
	if err != nil {
		return err
	}
	key, err := keys.Get(s.ID)
	if err != nil {
		return err
	}
	v := consensus.NewValidator(consensus.NewEngine(tictactoe.New()))
	forged, err := v.Countersign(consensus.SignedMove{Game: s.ID, Nonce: s.Nonce + 1, Move: mv, State: state}, board.PlayerTwo, key)
	if err != nil {
		return err
	}
	return peer.Send(ctx, forged)
}

// firstFree is the bot's strategy.
func firstFree(b board.Board) uint8 {
	for i, c := range b.Cells {
		if c == board.Empty {
			return uint8(i)
		}
	}
	return board.NoCell
}

func acknowledged(m *application.Match) uint64 {
	l := m.Ledger()
	if l == nil {
		return 0
	}
	sm, ok := l.LatestAcknowledged()
	if !ok {
		return 0
	}
	return sm.Nonce
}

func waitFor(ctx context.Context, timeout time.Duration, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
