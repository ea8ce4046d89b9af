package relay

import "encoding/json"

// SignalKind identifies a relayed signaling payload. The relay never inspects
// the payload itself; the kind only selects the event name the target sees.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalIceCandidate SignalKind = "ice-candidate"
)

// EventKind discriminates inbound Event values.
type EventKind int

const (
	EventJoinRoom EventKind = iota + 1
	EventFindPartner
	EventSignal
)

// Event is a single client-originated transition request. Connect and
// Disconnect are transport-level and have their own Controller methods.
type Event struct {
	Kind EventKind

	// Room names the target room for EventJoinRoom and EventFindPartner.
	Room string

	// Target, Signal, and Payload describe an EventSignal relay request.
	Target  string
	Signal  SignalKind
	Payload json.RawMessage
}

// OutboundKind discriminates server-originated Outbound values.
type OutboundKind int

const (
	OutboundConnected OutboundKind = iota + 1
	OutboundRoomJoined
	OutboundPartnerFound
	OutboundWaitingPartner
	OutboundPartnerLeft
	OutboundSignal
)

// Outbound is a server-originated message for one connection. The transport
// adapter maps it onto the wire format.
type Outbound struct {
	Kind OutboundKind

	ID        string // OutboundConnected
	Room      string // OutboundRoomJoined
	PartnerID string // OutboundPartnerFound

	// Sender, Signal, and Payload carry a relayed OutboundSignal.
	Sender  string
	Signal  SignalKind
	Payload json.RawMessage
}

// Sink receives outbound messages for a single connection.
//
// Deliver must not block: implementations queue or drop. The Controller calls
// it while holding its state mutex.
type Sink interface {
	Deliver(msg Outbound)
}
