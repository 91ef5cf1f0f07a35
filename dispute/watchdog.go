package dispute

import (
	"sync"
	"time"

	"github.com/luca-patrignani/offchain-games/domain/game"
)

// Watchdog fires when the opponent does not answer a move in time. It is
// armed after sending a move and disarmed by any valid answer.
type Watchdog struct {
	deadline time.Duration
	onExpire func(gameID game.ID, nonce uint64)

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func NewWatchdog(deadline time.Duration, onExpire func(gameID game.ID, nonce uint64)) *Watchdog {
	return &Watchdog{deadline: deadline, onExpire: onExpire}
}

// Arm starts the deadline for the answer to the move producing nonce,
// replacing any earlier deadline.
func (w *Watchdog) Arm(gameID game.ID, nonce uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	gen := w.gen
	w.timer = time.AfterFunc(w.deadline, func() {
		w.mu.Lock()
		if w.gen != gen {
			w.mu.Unlock()
			return
		}
		w.timer = nil
		w.mu.Unlock()
		w.onExpire(gameID, nonce)
	})
}

// Disarm cancels the pending deadline. A deadline already expiring is
// suppressed as well.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

// Armed reports whether a deadline is running.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

func (w *Watchdog) stopLocked() {
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
