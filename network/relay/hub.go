package relay

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/game"
)

const (
	seats      = 2
	maxPending = 64
	outboxSize = 16
	writeWait  = 10 * time.Second
	readLimit  = 1 << 20
)

// Envelope is the frame exchanged over the relay. From is set by the hub.
type Envelope struct {
	From int                  `json:"from"`
	Move consensus.SignedMove `json:"move"`
}

type conn struct {
	id     string
	rank   int
	ws     *websocket.Conn
	out    chan Envelope
	closed bool
}

type room struct {
	members map[int]*conn
	// pending holds frames for seats that are not connected, by recipient.
	pending map[int][]Envelope
}

// Hub relays moves between the two seats of each game. Connections name
// their game and seat in the query string: /?game=7&rank=0.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[game.ID]*room
}

func NewHub(l *slog.Logger) *Hub {
	if l == nil {
		l = slog.Default()
	}
	return &Hub{
		log:      l,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		rooms:    make(map[game.ID]*room),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gameID, err := strconv.ParseUint(r.URL.Query().Get("game"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid game", http.StatusBadRequest)
		return
	}
	rank, err := strconv.Atoi(r.URL.Query().Get("rank"))
	if err != nil || rank < 0 || rank >= seats {
		http.Error(w, "rank must be 0 or 1", http.StatusBadRequest)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrading connection", "err", err)
		return
	}
	ws.SetReadLimit(readLimit)

	c := &conn{id: uuid.NewString(), rank: rank, ws: ws, out: make(chan Envelope, outboxSize+maxPending)}
	id := game.ID(gameID)
	h.join(id, c)
	go c.writeLoop(h.log)
	h.readLoop(id, c)
}

func (h *Hub) join(gameID game.ID, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[gameID]
	if !ok {
		r = &room{members: make(map[int]*conn), pending: make(map[int][]Envelope)}
		h.rooms[gameID] = r
	}
	if old, ok := r.members[c.rank]; ok {
		h.log.Info("replacing connection", "game", gameID, "rank", c.rank, "old", old.id, "new", c.id)
		old.shut()
	}
	r.members[c.rank] = c
	for _, env := range r.pending[c.rank] {
		c.out <- env
	}
	delete(r.pending, c.rank)
	h.log.Info("peer joined", "game", gameID, "rank", c.rank, "conn", c.id)
}

func (h *Hub) leave(gameID game.ID, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[gameID]
	if !ok {
		return
	}
	if r.members[c.rank] == c {
		delete(r.members, c.rank)
	}
	c.shut()
	if len(r.members) == 0 && len(r.pending) == 0 {
		delete(h.rooms, gameID)
	}
	h.log.Info("peer left", "game", gameID, "rank", c.rank, "conn", c.id)
}

func (h *Hub) readLoop(gameID game.ID, c *conn) {
	defer h.leave(gameID, c)
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("reading from peer", "game", gameID, "rank", c.rank, "err", err)
			}
			return
		}
		env.From = c.rank
		h.forward(gameID, env)
	}
}

func (h *Hub) forward(gameID game.ID, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[gameID]
	if !ok {
		return
	}
	for rank := 0; rank < seats; rank++ {
		if rank == env.From {
			continue
		}
		if m, ok := r.members[rank]; ok && !m.closed {
			select {
			case m.out <- env:
				continue
			default:
				h.log.Warn("closing slow peer", "game", gameID, "rank", rank, "conn", m.id)
				m.shut()
				delete(r.members, rank)
			}
		}
		if len(r.pending[rank]) >= maxPending {
			h.log.Warn("dropping frame for absent peer", "game", gameID, "rank", rank, "nonce", env.Move.Nonce)
			continue
		}
		r.pending[rank] = append(r.pending[rank], env)
	}
}

// shut closes the outbox once. Callers hold the hub lock.
func (c *conn) shut() {
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *conn) writeLoop(l *slog.Logger) {
	defer c.ws.Close()
	for env := range c.out {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := c.ws.WriteJSON(env); err != nil {
			l.Warn("writing to peer", "rank", c.rank, "conn", c.id, "err", err)
			return
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
