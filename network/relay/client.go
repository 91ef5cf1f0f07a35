package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/game"
)

// Client is one seat's connection to a Hub. It implements
// consensus.Transport.
type Client struct {
	ws    *websocket.Conn
	moves chan consensus.SignedMove
	done  chan struct{}

	wmu       sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the hub at endpoint (ws:// or wss://) as seat rank of
// gameID.
func Dial(ctx context.Context, endpoint string, gameID game.ID, rank int) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("relay endpoint: %w", err)
	}
	q := u.Query()
	q.Set("game", gameID.String())
	q.Set("rank", strconv.Itoa(rank))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	ws.SetReadLimit(readLimit)
	c := &Client{
		ws:    ws,
		moves: make(chan consensus.SignedMove, outboxSize),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send hands m to the hub. The hub keeps it for the opponent if the
// opponent is not connected.
func (c *Client) Send(ctx context.Context, m consensus.SignedMove) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.New("relay connection closed")
	default:
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteJSON(Envelope{Move: m}); err != nil {
		return fmt.Errorf("send move %d: %w", m.Nonce, err)
	}
	return nil
}

// Moves returns the moves relayed from the opponent. It is closed when the
// connection drops.
func (c *Client) Moves() <-chan consensus.SignedMove { return c.moves }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.moves)
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.moves <- env.Move:
		case <-c.done:
			return
		}
	}
}
