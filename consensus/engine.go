package consensus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/metrics"
	apperrors "github.com/luca-patrignani/offchain-games/platform/errors"
)

const tracerName = "github.com/luca-patrignani/offchain-games/consensus"

// Engine applies moves to game states by consulting the rules authority.
// It never computes rules itself and never invents a resulting state.
type Engine struct {
	authority RulesAuthority
	timeout   time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type EngineOption func(*Engine)

// WithAuthorityTimeout bounds every rules authority call.
func WithAuthorityTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(authority RulesAuthority, opts ...EngineOption) *Engine {
	e := &Engine{
		authority: authority,
		timeout:   5 * time.Second,
		log:       slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply returns the state that results from playing m on prior. prior is
// never modified.
//
// Errors:
//   - MalformedMove if m does not fit the board
//   - IllegalMove if the game is not in play, m is out of turn or the
//     authority rejects it
//   - AuthorityUnavailable if the authority failed, timed out or answered
//     with an undecodable state
func (e *Engine) Apply(ctx context.Context, prior game.State, m board.Move) (game.State, error) {
	meta := map[string]string{"game": prior.ID.String(), "move": m.String()}
	if err := m.Validate(); err != nil {
		return prior, err
	}
	if m.Game != prior.Board.Type {
		return prior, apperrors.WithMetadata(apperrors.CodeMalformedMove, "move is for another game type", meta)
	}
	if !prior.Status.Playable() {
		meta["status"] = prior.Status.String()
		return prior, apperrors.WithMetadata(apperrors.CodeIllegalMove, "game is not in play", meta)
	}
	if m.Player != prior.Turn() {
		meta["turn"] = prior.Turn().String()
		return prior, apperrors.WithMetadata(apperrors.CodeIllegalMove, "move out of turn", meta)
	}
	priorBytes, err := prior.Encoded()
	if err != nil {
		return prior, err
	}
	moveBytes, err := board.EncodeMove(m)
	if err != nil {
		return prior, err
	}

	verdict, err := e.consult(ctx, prior, m, priorBytes, moveBytes)
	if err != nil {
		return prior, err
	}

	next, flags, err := board.Decode(verdict.State)
	if err != nil {
		e.log.Warn("rules authority returned an undecodable state", "game", prior.ID, "error", err)
		return prior, apperrors.WrapWithMetadata(apperrors.CodeAuthorityUnavailable, "undecodable authority state", meta, err)
	}
	return prior.Advance(next, flags)
}

func (e *Engine) consult(ctx context.Context, prior game.State, m board.Move, priorBytes, moveBytes []byte) (Verdict, error) {
	ctx, span := e.tracer.Start(ctx, "rules.IsLegalMove", trace.WithAttributes(
		attribute.Int64("game.id", int64(prior.ID)),
		attribute.Int64("game.nonce", int64(prior.Nonce)),
		attribute.String("move", m.String()),
	))
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		v   Verdict
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := e.authority.IsLegalMove(ctx, priorBytes, m.Player, moveBytes)
		done <- result{v, err}
	}()

	meta := map[string]string{"game": prior.ID.String(), "move": m.String()}
	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if r.err != nil {
		e.metrics.AuthorityCall(time.Since(start), "unavailable")
		span.RecordError(r.err)
		span.SetStatus(codes.Error, "authority unavailable")
		if errors.Is(r.err, context.DeadlineExceeded) {
			meta["timeout"] = e.timeout.String()
		}
		return Verdict{}, apperrors.WrapWithMetadata(apperrors.CodeAuthorityUnavailable, "rules authority call failed", meta, r.err)
	}
	if !r.v.Legal {
		e.metrics.AuthorityCall(time.Since(start), "illegal")
		span.SetAttributes(attribute.Bool("legal", false))
		return Verdict{}, apperrors.WithMetadata(apperrors.CodeIllegalMove, "rules authority rejected move", meta)
	}
	e.metrics.AuthorityCall(time.Since(start), "")
	span.SetAttributes(attribute.Bool("legal", true))
	return r.v, nil
}
