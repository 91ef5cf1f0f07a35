// Package signing abstracts the signature schemes a session key may use.
//
// Two schemes are available: secp256k1, verifiable on-chain by address
// recovery, and Schnorr over Ed25519. Both identify a key by a 20-byte
// address so that the arbiter can register either kind the same way.
package signing
