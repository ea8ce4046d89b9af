// Package signaling is the WebSocket transport in front of the relay core.
//
// It owns the wire protocol (JSON messages with an event name), per-connection
// read/write pumps with ping/pong keepalive, and inbound hardening (message
// size limit, rate limit, origin check). All room/pairing semantics live in
// internal/relay.
package signaling
