package memarbiter

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/game"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
	"github.com/luca-patrignani/offchain-games/signing"
)

func TestLogsDecodeToEvents(t *testing.T) {
	clk := newClock()
	tb := newTable(t, WithClock(clk.now))
	ctx := context.Background()
	_, moves := tb.play(t, 4)
	_, err := tb.arb.DisputeMove(ctx, alice, tb.id, consensus.Evidence{LastValid: &moves[0]})
	require.ErrorIs(t, err, apperrors.ErrDisputePending)
	clk.advance(DefaultResponseWindow)
	_, err = tb.arb.DisputeMove(ctx, alice, tb.id, consensus.Evidence{LastValid: &moves[0]})
	require.NoError(t, err)

	events, unsubEvents := tb.arb.Subscribe(tb.id)
	defer unsubEvents()
	logs, unsubLogs := tb.arb.SubscribeLogs(tb.id)
	defer unsubLogs()

	names := []string{
		game.EventGameProposed,
		game.EventGameProposed,
		game.EventGameStarted,
		game.EventDisputeOpened,
		game.EventGameFinished,
	}
	for _, name := range names {
		var l Log
		select {
		case l = <-logs:
		case <-time.After(time.Second):
			t.Fatalf("missing %s log", name)
		}
		want := <-events
		require.Equal(t, name, l.Name)
		got, err := game.DecodeEvent(l.Name, l.Args)
		require.NoError(t, err)
		if opened, ok := want.(game.DisputeOpened); ok {
			dec := got.(game.DisputeOpened)
			assert.True(t, opened.Deadline.Equal(dec.Deadline))
			dec.Deadline = opened.Deadline
			got = dec
		}
		assert.Equal(t, want, got)
	}
}

func TestSubscribeLogsUnsubscribe(t *testing.T) {
	tb := newTable(t)
	logs, unsub := tb.arb.SubscribeLogs(tb.id)
	unsub()
	unsub()
	for range logs {
	}
}

func TestEncodeLogStartedSessions(t *testing.T) {
	tb := newTable(t)
	s, err := tb.arb.Game(tb.id)
	require.NoError(t, err)
	started := game.GameStarted{
		Game:     tb.id,
		Players:  [2]common.Address{alice, bob},
		Sessions: [2]signing.Identity{s.Players[0].Session, s.Players[1].Session},
		Stake:    s.Stake,
	}
	l := EncodeLog(started)
	got, err := game.DecodeEvent(l.Name, l.Args)
	require.NoError(t, err)
	assert.Equal(t, started, got)
}
