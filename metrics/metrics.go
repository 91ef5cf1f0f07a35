// Package metrics exposes Prometheus instruments for the move protocol.
// All methods are safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offchain_games"

type Metrics struct {
	movesSigned          prometheus.Counter
	peerMovesAccepted    prometheus.Counter
	verificationFailures *prometheus.CounterVec
	authorityLatency     prometheus.Histogram
	authorityErrors      *prometheus.CounterVec
	disputesFiled        *prometheus.CounterVec
	disputeAttempts      prometheus.Counter
	sessionKeys          *prometheus.CounterVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		movesSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_signed_total",
			Help:      "Moves signed by the local session key.",
		}),
		peerMovesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_moves_accepted_total",
			Help:      "Opponent moves that passed verification.",
		}),
		verificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_failures_total",
			Help:      "Opponent moves rejected, by reason.",
		}, []string{"reason"}),
		authorityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rules_authority_seconds",
			Help:      "Latency of rules authority calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		authorityErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_authority_rejections_total",
			Help:      "Rules authority calls that did not yield a new state, by kind.",
		}, []string{"kind"}),
		disputesFiled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_filed_total",
			Help:      "Disputes submitted to the arbiter, by trigger.",
		}, []string{"trigger"}),
		disputeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispute_submission_attempts_total",
			Help:      "Individual arbiter calls made while submitting disputes.",
		}),
		sessionKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_keys_total",
			Help:      "Session key lifecycle events.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.movesSigned,
			m.peerMovesAccepted,
			m.verificationFailures,
			m.authorityLatency,
			m.authorityErrors,
			m.disputesFiled,
			m.disputeAttempts,
			m.sessionKeys,
		)
	}
	return m
}

func (m *Metrics) MoveSigned() {
	if m == nil {
		return
	}
	m.movesSigned.Inc()
}

func (m *Metrics) PeerMoveAccepted() {
	if m == nil {
		return
	}
	m.peerMovesAccepted.Inc()
}

func (m *Metrics) VerificationFailed(reason string) {
	if m == nil {
		return
	}
	m.verificationFailures.WithLabelValues(reason).Inc()
}

// AuthorityCall records one rules authority round trip. kind is empty on
// success, otherwise "illegal" or "unavailable".
func (m *Metrics) AuthorityCall(d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.authorityLatency.Observe(d.Seconds())
	if kind != "" {
		m.authorityErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DisputeFiled(trigger string) {
	if m == nil {
		return
	}
	m.disputesFiled.WithLabelValues(trigger).Inc()
}

func (m *Metrics) DisputeAttempt() {
	if m == nil {
		return
	}
	m.disputeAttempts.Inc()
}

func (m *Metrics) SessionKey(event string) {
	if m == nil {
		return
	}
	m.sessionKeys.WithLabelValues(event).Inc()
}
