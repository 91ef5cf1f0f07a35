package network

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

type peerOption func(Peer) Peer

// NewPeerWithOptions creates a Peer that is not serving yet. Call Start to
// accept moves.
func NewPeerWithOptions(rank int, addresses map[int]string, opts ...peerOption) Peer {
	p := Peer{
		Rank:      rank,
		Addresses: copyMap(addresses),
		clock:     new(atomic.Uint64),
		client:    &http.Client{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		p = opt(p)
	}
	p.handler = newMoveHandler(p.log.With("rank", rank))
	p.server = &http.Server{
		Addr:              p.Addresses[rank],
		Handler:           p.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return p
}

// Start serves incoming moves on l, over TLS when a certificate was given.
func (p Peer) Start(l net.Listener) {
	if p.tlsConfig != nil {
		l = tls.NewListener(l, p.tlsConfig)
	}
	go func() {
		err := p.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("peer server stopped", "rank", p.Rank, "err", err)
		}
	}()
}

// WithTimeout bounds how long Send keeps retrying an unreachable peer.
// Zero means until the caller's context is done.
func WithTimeout(timeout time.Duration) peerOption {
	return func(p Peer) Peer {
		p.timeout = timeout
		return p
	}
}

func WithLogger(l *slog.Logger) peerOption {
	return func(p Peer) Peer {
		p.log = l
		return p
	}
}

// WithCertificate serves over TLS with cert and presents it to the other
// peers as a client certificate.
func WithCertificate(cert tls.Certificate) peerOption {
	return func(p Peer) Peer {
		p.tlsConfig = cloneTLS(p.tlsConfig)
		p.tlsConfig.Certificates = append(p.tlsConfig.Certificates, cert)
		p.client = &http.Client{Transport: &http.Transport{TLSClientConfig: p.tlsConfig}}
		return p
	}
}

// WithLimitedCAs trusts only certPool, both for the peers we call and for
// the client certificates of the peers calling us.
func WithLimitedCAs(certPool *x509.CertPool) peerOption {
	return func(p Peer) Peer {
		p.tlsConfig = cloneTLS(p.tlsConfig)
		p.tlsConfig.RootCAs = certPool
		p.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		p.tlsConfig.ClientCAs = certPool
		p.client = &http.Client{Transport: &http.Transport{TLSClientConfig: p.tlsConfig}}
		return p
	}
}

func cloneTLS(c *tls.Config) *tls.Config {
	if c == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return c.Clone()
}
