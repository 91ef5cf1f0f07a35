// Package relay forwards signed moves between two parties through a
// websocket hub, for parties that cannot accept connections from each
// other.
//
// # Core Components
//
// Hub: http.Handler grouping connections by game. A frame from one seat is
// forwarded to the other seat, or kept until that seat connects. A seat
// that reconnects replaces its previous connection.
//
// Client: a seat's connection, implementing consensus.Transport.
//
// The hub is untrusted: it only carries signed moves, and every move is
// verified by the receiving party.
package relay
