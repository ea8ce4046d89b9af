package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pairloop/signaling-relay/internal/relay"
)

type eventName string

const (
	// server -> client
	eventConnected      eventName = "connected"
	eventRoomJoined     eventName = "room-joined"
	eventPartnerFound   eventName = "partner-found"
	eventWaitingPartner eventName = "waiting-partner"
	eventPartnerLeft    eventName = "partner-left"

	// client -> server
	eventJoinRoom    eventName = "join-room"
	eventFindPartner eventName = "find-partner"

	// both directions; payloads are opaque to the relay
	eventOffer        eventName = "offer"
	eventAnswer       eventName = "answer"
	eventIceCandidate eventName = "ice-candidate"
)

// clientMessage is the inbound wire shape. Exactly one event-specific field
// set is valid per event; payload fields stay raw JSON and are forwarded
// untouched.
type clientMessage struct {
	Event eventName `json:"event"`

	Room   string `json:"room,omitempty"`
	Target string `json:"target,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Event {
	case eventJoinRoom, eventFindPartner:
		if m.Room == "" {
			return fmt.Errorf("%s message missing room", m.Event)
		}
		if m.Target != "" || m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Event)
		}
	case eventOffer:
		if m.Target == "" {
			return fmt.Errorf("offer message missing target")
		}
		if m.Offer == nil {
			return fmt.Errorf("offer message missing offer")
		}
		if m.Room != "" || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case eventAnswer:
		if m.Target == "" {
			return fmt.Errorf("answer message missing target")
		}
		if m.Answer == nil {
			return fmt.Errorf("answer message missing answer")
		}
		if m.Room != "" || m.Offer != nil || m.Candidate != nil {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case eventIceCandidate:
		if m.Target == "" {
			return fmt.Errorf("ice-candidate message missing target")
		}
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if m.Room != "" || m.Offer != nil || m.Answer != nil {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported event %q", m.Event)
	}
	return nil
}

// toEvent maps a validated inbound message onto a relay core event.
func (m clientMessage) toEvent() relay.Event {
	switch m.Event {
	case eventJoinRoom:
		return relay.Event{Kind: relay.EventJoinRoom, Room: m.Room}
	case eventFindPartner:
		return relay.Event{Kind: relay.EventFindPartner, Room: m.Room}
	case eventOffer:
		return relay.Event{Kind: relay.EventSignal, Target: m.Target, Signal: relay.SignalOffer, Payload: m.Offer}
	case eventAnswer:
		return relay.Event{Kind: relay.EventSignal, Target: m.Target, Signal: relay.SignalAnswer, Payload: m.Answer}
	case eventIceCandidate:
		return relay.Event{Kind: relay.EventSignal, Target: m.Target, Signal: relay.SignalIceCandidate, Payload: m.Candidate}
	}
	// validate() rejects everything else.
	return relay.Event{}
}

// serverMessage is the outbound wire shape.
type serverMessage struct {
	Event eventName `json:"event"`

	ID        string `json:"id,omitempty"`
	Room      string `json:"room,omitempty"`
	PartnerID string `json:"partnerId,omitempty"`
	Sender    string `json:"sender,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func serverMessageFromOutbound(out relay.Outbound) serverMessage {
	switch out.Kind {
	case relay.OutboundConnected:
		return serverMessage{Event: eventConnected, ID: out.ID}
	case relay.OutboundRoomJoined:
		return serverMessage{Event: eventRoomJoined, Room: out.Room}
	case relay.OutboundPartnerFound:
		return serverMessage{Event: eventPartnerFound, PartnerID: out.PartnerID}
	case relay.OutboundWaitingPartner:
		return serverMessage{Event: eventWaitingPartner}
	case relay.OutboundPartnerLeft:
		return serverMessage{Event: eventPartnerLeft}
	case relay.OutboundSignal:
		msg := serverMessage{Sender: out.Sender}
		switch out.Signal {
		case relay.SignalOffer:
			msg.Event = eventOffer
			msg.Offer = out.Payload
		case relay.SignalAnswer:
			msg.Event = eventAnswer
			msg.Answer = out.Payload
		case relay.SignalIceCandidate:
			msg.Event = eventIceCandidate
			msg.Candidate = out.Payload
		}
		return msg
	}
	return serverMessage{}
}
