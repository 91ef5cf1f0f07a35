package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/game"
)

func newHub(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(NewHub(nil))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, endpoint string, gameID game.ID, rank int) *Client {
	t.Helper()
	c, err := Dial(context.Background(), endpoint, gameID, rank)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *Client) consensus.SignedMove {
	t.Helper()
	select {
	case m, ok := <-c.Moves():
		require.True(t, ok, "connection closed")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no move relayed")
	}
	return consensus.SignedMove{}
}

func silent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case m := <-c.Moves():
		t.Fatalf("unexpected move %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

func move(gameID game.ID, nonce uint64) consensus.SignedMove {
	return consensus.SignedMove{Game: gameID, Nonce: nonce, Move: []byte{1}, State: []byte{2, byte(nonce)}}
}

func TestRelayBetweenSeats(t *testing.T) {
	endpoint := newHub(t)
	a := dial(t, endpoint, 1, 0)
	b := dial(t, endpoint, 1, 1)

	require.NoError(t, a.Send(context.Background(), move(1, 1)))
	got := next(t, b)
	assert.Equal(t, uint64(1), got.Nonce)
	assert.Equal(t, []byte{2, 1}, got.State)

	require.NoError(t, b.Send(context.Background(), move(1, 2)))
	assert.Equal(t, uint64(2), next(t, a).Nonce)
	silent(t, b)
}

func TestRelayKeepsFramesForAbsentSeat(t *testing.T) {
	endpoint := newHub(t)
	a := dial(t, endpoint, 4, 0)
	require.NoError(t, a.Send(context.Background(), move(4, 1)))
	require.NoError(t, a.Send(context.Background(), move(4, 3)))
	// Give the hub time to queue both frames.
	time.Sleep(100 * time.Millisecond)

	b := dial(t, endpoint, 4, 1)
	assert.Equal(t, uint64(1), next(t, b).Nonce)
	assert.Equal(t, uint64(3), next(t, b).Nonce)
}

func TestRelayIsolatesGames(t *testing.T) {
	endpoint := newHub(t)
	a := dial(t, endpoint, 1, 0)
	b := dial(t, endpoint, 1, 1)
	other := dial(t, endpoint, 2, 1)

	require.NoError(t, a.Send(context.Background(), move(1, 1)))
	next(t, b)
	silent(t, other)
}

func TestRelayReconnectReplacesSeat(t *testing.T) {
	endpoint := newHub(t)
	a := dial(t, endpoint, 9, 0)
	first := dial(t, endpoint, 9, 1)
	time.Sleep(50 * time.Millisecond)
	second := dial(t, endpoint, 9, 1)

	// The replaced connection is closed by the hub.
	select {
	case _, ok := <-first.Moves():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("replaced connection still open")
	}

	require.NoError(t, a.Send(context.Background(), move(9, 1)))
	assert.Equal(t, uint64(1), next(t, second).Nonce)
}

func TestRelayRejectsBadSeat(t *testing.T) {
	endpoint := newHub(t)
	for _, rank := range []int{-1, 2} {
		_, err := Dial(context.Background(), endpoint, 1, rank)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	}

	srv := httptest.NewServer(NewHub(nil))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/?rank=0")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendAfterClose(t *testing.T) {
	endpoint := newHub(t)
	a := dial(t, endpoint, 1, 0)
	require.NoError(t, a.Close())
	assert.Error(t, a.Send(context.Background(), move(1, 1)))
	assert.NoError(t, a.Close())
}

func TestSendHonoursCancelledContext(t *testing.T) {
	endpoint := newHub(t)
	a := dial(t, endpoint, 1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Send(ctx, move(1, 1)), context.Canceled)
}
