// Package network carries signed moves between the two parties of a match.
//
// # Core Components
//
// Peer: HTTP node implementing consensus.Transport. Send posts a move as
// JSON to every other peer and retries until it is accepted. Received moves
// are exposed on the Moves channel.
//
// relay: websocket hub and client for parties that cannot reach each other
// directly (see the relay subpackage).
//
// # Delivery
//
// Each request carries a Clock header numbering the sends of its peer.
// A request the receiver already accepted is acknowledged again without
// being delivered twice, so retries are safe. When the inbox is full the
// receiver answers 503 and the sender retries. Anything beyond
// acknowledged delivery is left to the protocol: a lost move shows up as
// an opponent timeout.
//
// # TLS
//
// WithCertificate and WithLimitedCAs switch the peer to mutual TLS.
// GenerateSelfSignedCert and CertPool help set that up for local matches.
package network
