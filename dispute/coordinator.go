package dispute

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/luca-patrignani/offchain-games/consensus"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/metrics"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

const tracerName = "github.com/luca-patrignani/offchain-games/dispute"

// Trigger is what made the local party escalate.
type Trigger string

const (
	TriggerStateMismatch Trigger = Trigger(consensus.ReasonStateMismatch)
	TriggerBadSignature  Trigger = Trigger(consensus.ReasonBadSignature)
	TriggerTimeout       Trigger = "timeout"
	// TriggerSettle asks the arbiter to finalize a game that ended on the
	// board. The final move is the only evidence.
	TriggerSettle Trigger = "settle"
	// TriggerAnswer refutes a challenge claiming the local party stopped
	// answering, by showing a later position.
	TriggerAnswer Trigger = "answer"
)

// TriggerFor reports whether err is evidence worth a dispute and which
// trigger it maps to. Stale nonces, foreign games and authority outages
// never are.
func TriggerFor(err error) (Trigger, bool) {
	var vf *consensus.VerificationFailed
	if !errors.As(err, &vf) || !vf.Reason.Disputable() {
		return "", false
	}
	return Trigger(vf.Reason), true
}

// Ticket is a dispute submitted to the arbiter together with its outcome.
type Ticket struct {
	ID           string
	Game         game.ID
	Trigger      Trigger
	Submitter    common.Address
	Evidence     consensus.Evidence
	Filed        time.Time
	Attempts     int
	Adjudication consensus.Adjudication
}

// Pending returns the marker stored in the game state while the ticket is
// being adjudicated.
func (t *Ticket) Pending() game.PendingDispute {
	return game.PendingDispute{Ticket: t.ID, Trigger: string(t.Trigger), Filed: t.Filed}
}

// Reconcile folds the arbiter's events into s. The arbiter may rule against
// the submitter; its events are applied as they are.
func (t *Ticket) Reconcile(s game.State) (game.State, error) {
	for _, e := range t.Adjudication.Events {
		next, err := game.ApplyExternalEvent(s, e)
		if err != nil {
			return s, fmt.Errorf("reconcile %s: %w", e.Name(), err)
		}
		s = next
	}
	return s, nil
}

func (t *Ticket) clone() *Ticket {
	c := *t
	c.Evidence = t.Evidence.Clone()
	c.Adjudication.Events = append([]game.Event(nil), t.Adjudication.Events...)
	return &c
}

// TicketID identifies a dispute by its evidence, so filing the same evidence
// twice yields the same ticket.
func TicketID(gameID game.ID, trigger Trigger, ev consensus.Evidence) string {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(gameID))
	parts := [][]byte{hdr[:], []byte(trigger)}
	for _, m := range []*consensus.SignedMove{ev.Prior, ev.LastValid, ev.Offending} {
		if m == nil {
			parts = append(parts, []byte{0})
			continue
		}
		parts = append(parts, []byte{1}, m.Fingerprint())
	}
	return hex.EncodeToString(crypto.Keccak256(parts...)[:16])
}

// Coordinator submits disputes to the arbiter on behalf of one party.
type Coordinator struct {
	arbiter   consensus.Arbiter
	submitter common.Address

	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
	callTimeout     time.Duration

	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	tickets map[string]*Ticket
}

type Option func(*Coordinator)

// WithBackoff configures the retry schedule of arbiter submissions. After
// maxElapsed the submission is given up as timed out.
func WithBackoff(initial, max, maxElapsed time.Duration) Option {
	return func(c *Coordinator) {
		c.initialInterval = initial
		c.maxInterval = max
		c.maxElapsed = maxElapsed
	}
}

// WithCallTimeout bounds every single arbiter call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.callTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator filing disputes as submitter.
func NewCoordinator(arbiter consensus.Arbiter, submitter common.Address, opts ...Option) *Coordinator {
	c := &Coordinator{
		arbiter:         arbiter,
		submitter:       submitter,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     10 * time.Second,
		maxElapsed:      2 * time.Minute,
		callTimeout:     10 * time.Second,
		log:             slog.Default(),
		tracer:          otel.Tracer(tracerName),
		now:             time.Now,
		tickets:         make(map[string]*Ticket),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FileDispute submits evidence about gameID to the arbiter and waits for its
// adjudication.
//
// Parameters:
//   - trigger: why the party escalates
//   - ev: the party's evidence. ev.Offending is required for
//     state-mismatch and dropped for every other trigger, since an
//     unattributable payload proves nothing. Settling and answering need
//     ev.LastValid.
//
// Filing evidence that was already adjudicated returns the existing ticket
// without contacting the arbiter again; concurrent filings of the same
// evidence share one submission. While the arbiter waits for the accused
// seat to answer, the submission is retried like an outage.
//
// Errors:
//   - DisputeRejected if the arbiter refused the submission outright
//   - DisputeSubmissionTimedOut if the arbiter stayed unreachable
func (c *Coordinator) FileDispute(ctx context.Context, gameID game.ID, trigger Trigger, ev consensus.Evidence) (*Ticket, error) {
	ev = ev.Clone()
	switch trigger {
	case TriggerStateMismatch:
		if ev.Offending == nil {
			return nil, fmt.Errorf("state-mismatch dispute needs the offending move")
		}
	case TriggerBadSignature, TriggerTimeout:
		ev.Offending = nil
	case TriggerSettle, TriggerAnswer:
		if ev.LastValid == nil {
			return nil, fmt.Errorf("%s needs the latest move", trigger)
		}
		ev.Offending = nil
	default:
		return nil, fmt.Errorf("unknown dispute trigger %q", trigger)
	}

	id := TicketID(gameID, trigger, ev)
	if t, ok := c.lookup(id); ok {
		c.log.Debug("dispute already adjudicated", "game", gameID, "ticket", id)
		return t, nil
	}

	v, err, shared := c.group.Do(id, func() (any, error) {
		if t, ok := c.lookup(id); ok {
			return t, nil
		}
		t := &Ticket{
			ID:        id,
			Game:      gameID,
			Trigger:   trigger,
			Submitter: c.submitter,
			Evidence:  ev,
			Filed:     c.now(),
		}
		c.metrics.DisputeFiled(string(trigger))
		if err := c.submit(ctx, t); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tickets[id] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug("dispute submission shared", "game", gameID, "ticket", id)
	}
	return v.(*Ticket).clone(), nil
}

// Ticket returns an adjudicated ticket by id.
func (c *Coordinator) Ticket(id string) (*Ticket, bool) {
	return c.lookup(id)
}

func (c *Coordinator) lookup(id string) (*Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tickets[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

func (c *Coordinator) submit(ctx context.Context, t *Ticket) error {
	ctx, span := c.tracer.Start(ctx, "arbiter.DisputeMove", trace.WithAttributes(
		attribute.Int64("game.id", int64(t.Game)),
		attribute.String("dispute.trigger", string(t.Trigger)),
		attribute.String("dispute.ticket", t.ID),
	))
	defer span.End()

	meta := map[string]string{"game": t.Game.String(), "ticket": t.ID, "trigger": string(t.Trigger)}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval

	op := func() (consensus.Adjudication, error) {
		t.Attempts++
		c.metrics.DisputeAttempt()
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		adj, err := c.arbiter.DisputeMove(callCtx, t.Submitter, t.Game, t.Evidence)
		if err != nil {
			if errors.Is(err, apperrors.ErrDisputeRejected) {
				return adj, backoff.Permanent(err)
			}
			return adj, err
		}
		return adj, nil
	}
	notify := func(err error, next time.Duration) {
		if errors.Is(err, apperrors.ErrDisputePending) {
			c.log.Info("dispute awaiting the accused seat", "game", t.Game, "ticket", t.ID, "attempt", t.Attempts, "retry_in", next)
			return
		}
		c.log.Warn("dispute submission failed, retrying", "game", t.Game, "ticket", t.ID, "attempt", t.Attempts, "retry_in", next, "error", err)
	}

	adj, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.maxElapsed),
		backoff.WithNotify(notify),
	)
	span.SetAttributes(attribute.Int("dispute.attempts", t.Attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispute not adjudicated")
		if errors.Is(err, apperrors.ErrDisputeRejected) {
			c.log.Error("dispute rejected by arbiter", "game", t.Game, "ticket", t.ID, "error", err)
			return err
		}
		c.log.Error("dispute submission timed out", "game", t.Game, "ticket", t.ID, "attempts", t.Attempts, "error", err)
		return apperrors.WrapWithMetadata(apperrors.CodeDisputeSubmissionTimedOut, "arbiter unreachable", meta, err)
	}
	t.Adjudication = adj
	c.log.Info("dispute adjudicated", "game", t.Game, "ticket", t.ID, "events", len(adj.Events))
	return nil
}
