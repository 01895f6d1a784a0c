// Package room tracks rendezvous rooms: six digit numeric codes mapping a
// creator connection and, once paired, a joiner connection. The Registry is
// the single synchronization point; every state transition is one atomic
// registry operation, and callers deliver notifications only after it
// returns.
package room
