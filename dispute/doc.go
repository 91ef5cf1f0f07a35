// Package dispute escalates broken off-chain play to the arbiter.
//
// # Core Components
//
// Coordinator: packages signed evidence into a Ticket, submits it with
// exponential backoff and caches the adjudication so the same evidence is
// never adjudicated twice.
//
// Watchdog: deadline for the opponent's answer to a move. Its expiry is the
// timeout trigger.
//
// A game that ended on the board is finalized with the settle trigger,
// which carries only the final acknowledged move.
//
// The arbiter's events are binding. Ticket.Reconcile applies them to the
// local state whether or not they agree with the submitter.
package dispute
