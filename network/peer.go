package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luca-patrignani/offchain-games/consensus"
)

const (
	movesPath     = "/moves"
	clockHeader   = "Clock"
	senderHeader  = "SenderRank"
	inboxSize     = 16
	retryInterval = 50 * time.Millisecond
)

// Peer relays signed moves between the parties of a match over HTTP.
// The Rank is the seat of the local party.
// Addresses[i] contains the address to reach the Peer with Rank i.
type Peer struct {
	Rank      int
	Addresses map[int]string
	clock     *atomic.Uint64
	server    *http.Server
	handler   *moveHandler
	client    *http.Client
	tlsConfig *tls.Config
	timeout   time.Duration
	log       *slog.Logger
}

// NewPeer creates a plain HTTP peer and starts serving on l.
func NewPeer(rank int, addresses map[int]string, l net.Listener, timeout time.Duration) Peer {
	p := NewPeerWithOptions(rank, addresses, WithTimeout(timeout))
	p.Start(l)
	return p
}

func (p Peer) Close() error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(context.Background())
}

// Moves returns the channel receiving the moves sent by the other peers.
// Every move is delivered once, even when the sender retried it.
func (p Peer) Moves() <-chan consensus.SignedMove {
	return p.handler.inbox
}

// Send delivers m to every other peer. It retries each peer until the move
// is accepted, the peer refuses it, the peer timeout elapses or ctx is done.
func (p Peer) Send(ctx context.Context, m consensus.SignedMove) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode move: %w", err)
	}
	clock := p.clock.Add(1)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	for rank, addr := range p.Addresses {
		if rank == p.Rank {
			continue
		}
		if err := p.post(ctx, addr, clock, body); err != nil {
			return fmt.Errorf("send move %d to peer %d: %w", m.Nonce, rank, err)
		}
		p.log.Debug("move sent", "game", m.Game, "nonce", m.Nonce, "peer", rank, "clock", clock)
	}
	return nil
}

func (p Peer) post(ctx context.Context, addr string, clock uint64, body []byte) error {
	var last error
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(addr), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(clockHeader, strconv.FormatUint(clock, 10))
		req.Header.Set(senderHeader, strconv.Itoa(p.Rank))

		resp, err := p.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			if err := resp.Body.Close(); err != nil {
				return err
			}
			switch resp.StatusCode {
			case http.StatusAccepted:
				return nil
			case http.StatusBadRequest:
				return fmt.Errorf("peer refused the move with status %d", resp.StatusCode)
			}
			last = fmt.Errorf("peer answered with status %d", resp.StatusCode)
		} else {
			last = err
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), last)
		case <-time.After(retryInterval):
		}
	}
}

func (p Peer) url(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr + movesPath
	}
	if p.tlsConfig != nil {
		return "https://" + addr + movesPath
	}
	return "http://" + addr + movesPath
}

// moveHandler decodes incoming moves into the inbox. The Clock header
// numbers the sends of each peer, so a retried request is acknowledged
// without being delivered twice.
type moveHandler struct {
	log   *slog.Logger
	inbox chan consensus.SignedMove

	mu   sync.Mutex
	seen map[int]map[uint64]struct{}
}

func newMoveHandler(l *slog.Logger) *moveHandler {
	return &moveHandler{
		log:   l,
		inbox: make(chan consensus.SignedMove, inboxSize),
		seen:  make(map[int]map[uint64]struct{}),
	}
}

func (h *moveHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost || req.URL.Path != movesPath {
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	clock, err := strconv.ParseUint(req.Header.Get(clockHeader), 10, 64)
	if err != nil {
		h.log.Warn("rejecting move without a valid clock", "remote", req.RemoteAddr)
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	sender, err := strconv.Atoi(req.Header.Get(senderHeader))
	if err != nil {
		h.log.Warn("rejecting move without a sender rank", "remote", req.RemoteAddr)
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	var m consensus.SignedMove
	if err := json.NewDecoder(req.Body).Decode(&m); err != nil {
		h.log.Warn("rejecting undecodable move", "sender", sender, "err", err)
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.seen[sender][clock]; dup {
		rw.WriteHeader(http.StatusAccepted)
		return
	}
	select {
	case h.inbox <- m:
		if h.seen[sender] == nil {
			h.seen[sender] = make(map[uint64]struct{})
		}
		h.seen[sender][clock] = struct{}{}
		rw.WriteHeader(http.StatusAccepted)
	default:
		rw.WriteHeader(http.StatusServiceUnavailable)
	}
}

// CreateListeners opens n listeners on free localhost ports.
func CreateListeners(n int) (map[int]net.Listener, map[int]string) {
	listeners := make(map[int]net.Listener)
	addresses := make(map[int]string)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			panic(err)
		}
		listeners[i] = l
		addresses[i] = l.Addr().String()
	}
	return listeners, addresses
}

func copyMap(original map[int]string) map[int]string {
	copied := make(map[int]string, len(original))
	for k, v := range original {
		copied[k] = v
	}
	return copied
}
