// Package relay contains the in-memory room, pairing, and message-routing
// state machine behind the signaling WebSocket.
//
// All state lives in a single Controller-owned store guarded by one mutex;
// transports (internal/signaling) drive it through Connect, HandleEvent, and
// Disconnect and receive outbound traffic through per-connection Sinks.
package relay
