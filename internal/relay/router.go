package relay

import "encoding/json"

// Router relays opaque signaling payloads to a named target connection.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Relay delivers payload, tagged with kind and the sender's id, to targetID.
// Delivery is at-most-once and fire-and-forget: a missing target drops the
// message and reports false, with no error surfaced to the sender.
func (rt *Router) Relay(senderID, targetID string, kind SignalKind, payload json.RawMessage) bool {
	target := rt.registry.get(targetID)
	if target == nil {
		return false
	}
	target.sink.Deliver(Outbound{
		Kind:    OutboundSignal,
		Sender:  senderID,
		Signal:  kind,
		Payload: payload,
	})
	return true
}
