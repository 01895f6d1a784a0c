// Package signaling implements the rendezvous protocol for the screen
// sharing relay: six-digit room codes pair exactly two WebSocket peers, and
// WebRTC negotiation payloads are forwarded between them opaquely.
package signaling
