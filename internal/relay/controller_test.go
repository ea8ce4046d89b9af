package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pairloop/signaling-relay/internal/metrics"
)

// recordSink captures every delivered message so tests can assert on the
// outbound stream.
type recordSink struct {
	mu   sync.Mutex
	msgs []Outbound
}

func (s *recordSink) Deliver(msg Outbound) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *recordSink) all() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outbound(nil), s.msgs...)
}

func (s *recordSink) last(t *testing.T) Outbound {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		t.Fatalf("no messages delivered")
	}
	return s.msgs[len(s.msgs)-1]
}

func newTestController(maxConns int) *Controller {
	return NewController(ControllerConfig{
		Metrics:        metrics.New(),
		MaxConnections: maxConns,
	})
}

func connect(t *testing.T, c *Controller, id string) *recordSink {
	t.Helper()
	sink := &recordSink{}
	if err := c.Connect(id, sink); err != nil {
		t.Fatalf("Connect(%q): %v", id, err)
	}
	return sink
}

func TestConnectAcknowledgesWithID(t *testing.T) {
	c := newTestController(0)
	sink := connect(t, c, "abc")

	msg := sink.last(t)
	if msg.Kind != OutboundConnected || msg.ID != "abc" {
		t.Fatalf("got %+v, want connected ack carrying the id", msg)
	}
}

func TestConnectRejectsWhenFull(t *testing.T) {
	c := newTestController(2)
	connect(t, c, "a")
	connect(t, c, "b")

	err := c.Connect("c", &recordSink{})
	if !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("err = %v, want ErrTooManyConnections", err)
	}
	c.mu.Lock()
	registered := c.registry.Len()
	c.mu.Unlock()
	if registered != 2 {
		t.Fatalf("registered connections = %d, want 2", registered)
	}

	// Capacity frees up on disconnect.
	c.Disconnect("a")
	if err := c.Connect("c", &recordSink{}); err != nil {
		t.Fatalf("Connect after capacity freed: %v", err)
	}
}

func TestJoinRoomAcknowledges(t *testing.T) {
	c := newTestController(0)
	sink := connect(t, c, "a")

	c.HandleEvent("a", Event{Kind: EventJoinRoom, Room: "lobby"})

	msg := sink.last(t)
	if msg.Kind != OutboundRoomJoined || msg.Room != "lobby" {
		t.Fatalf("got %+v, want room-joined ack for lobby", msg)
	}
	st := c.Stats()
	if st.Rooms != 1 {
		t.Fatalf("Rooms = %d, want 1", st.Rooms)
	}
}

func TestStatsCountOnlyJoinedConnections(t *testing.T) {
	c := newTestController(0)
	connect(t, c, "a")
	connect(t, c, "b")

	// Connected-but-unjoined clients do not show up in the status counts.
	if st := c.Stats(); st.Connections != 0 || st.Rooms != 0 {
		t.Fatalf("stats before any join = %+v, want zeros", st)
	}

	c.HandleEvent("a", Event{Kind: EventJoinRoom, Room: "lobby"})
	if st := c.Stats(); st.Connections != 1 || st.Rooms != 1 {
		t.Fatalf("stats after first join = %+v, want 1/1", st)
	}

	// Joining a second room does not double-count the connection.
	c.HandleEvent("a", Event{Kind: EventJoinRoom, Room: "other"})
	if st := c.Stats(); st.Connections != 1 || st.Rooms != 2 {
		t.Fatalf("stats after second join = %+v, want connections 1, rooms 2", st)
	}

	c.HandleEvent("b", Event{Kind: EventJoinRoom, Room: "lobby"})
	if st := c.Stats(); st.Connections != 2 {
		t.Fatalf("stats = %+v, want 2 connections", st)
	}

	c.Disconnect("a")
	if st := c.Stats(); st.Connections != 1 || st.Rooms != 1 {
		t.Fatalf("stats after disconnect = %+v, want 1/1", st)
	}
}

func TestFindPartnerPairsAndNotifiesBoth(t *testing.T) {
	c := newTestController(0)
	sinkX := connect(t, c, "x")
	sinkY := connect(t, c, "y")
	c.HandleEvent("x", Event{Kind: EventJoinRoom, Room: "lobby"})

	c.HandleEvent("x", Event{Kind: EventFindPartner, Room: "lobby"})
	if msg := sinkX.last(t); msg.Kind != OutboundWaitingPartner {
		t.Fatalf("x alone: got %+v, want waiting-partner", msg)
	}

	// Any unmatched room member is a candidate; y does not have to request
	// matching itself to be chosen.
	c.HandleEvent("y", Event{Kind: EventJoinRoom, Room: "lobby"})
	c.HandleEvent("y", Event{Kind: EventFindPartner, Room: "lobby"})
	if msg := sinkY.last(t); msg.Kind != OutboundPartnerFound || msg.PartnerID != "x" {
		t.Fatalf("y: got %+v, want partner-found x", msg)
	}
	if msg := sinkX.last(t); msg.Kind != OutboundPartnerFound || msg.PartnerID != "y" {
		t.Fatalf("x: got %+v, want partner-found y", msg)
	}
}

func TestFindPartnerWhilePairedOnlyAnswersRequester(t *testing.T) {
	c := newTestController(0)
	sinkX := connect(t, c, "x")
	sinkY := connect(t, c, "y")
	for _, id := range []string{"x", "y"} {
		c.HandleEvent(id, Event{Kind: EventJoinRoom, Room: "lobby"})
		c.HandleEvent(id, Event{Kind: EventFindPartner, Room: "lobby"})
	}
	beforeY := len(sinkY.all())

	// x asks again: it gets its existing partner back, y hears nothing new.
	c.HandleEvent("x", Event{Kind: EventFindPartner, Room: "lobby"})

	if msg := sinkX.last(t); msg.Kind != OutboundPartnerFound || msg.PartnerID != "y" {
		t.Fatalf("x re-request: got %+v, want partner-found y", msg)
	}
	if got := len(sinkY.all()); got != beforeY {
		t.Fatalf("y received %d extra messages on x's re-request", got-beforeY)
	}
	if got := c.Metrics().Get(metrics.PairsMatched); got != 1 {
		t.Fatalf("PairsMatched = %d, want 1", got)
	}
}

func TestSignalRelayCarriesSenderAndPayload(t *testing.T) {
	c := newTestController(0)
	connect(t, c, "x")
	sinkY := connect(t, c, "y")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)
	c.HandleEvent("x", Event{Kind: EventSignal, Target: "y", Signal: SignalOffer, Payload: payload})

	msg := sinkY.last(t)
	if msg.Kind != OutboundSignal || msg.Signal != SignalOffer || msg.Sender != "x" {
		t.Fatalf("got %+v, want offer from x", msg)
	}
	if string(msg.Payload) != string(payload) {
		t.Fatalf("payload = %s, want it untouched", msg.Payload)
	}
}

func TestSignalToUnknownTargetIsDropped(t *testing.T) {
	c := newTestController(0)
	sinkX := connect(t, c, "x")
	before := len(sinkX.all())

	c.HandleEvent("x", Event{Kind: EventSignal, Target: "ghost", Signal: SignalAnswer, Payload: json.RawMessage(`{}`)})

	if got := len(sinkX.all()); got != before {
		t.Fatalf("sender must not be told about the drop, got %d extra messages", got-before)
	}
	if got := c.Metrics().Get(metrics.DropReasonNoTarget); got != 1 {
		t.Fatalf("dropped counter = %d, want 1", got)
	}
}

func TestDisconnectNotifiesPartnerAndFreesIt(t *testing.T) {
	c := newTestController(0)
	connect(t, c, "x")
	sinkY := connect(t, c, "y")
	sinkZ := connect(t, c, "z")
	for _, id := range []string{"x", "y", "z"} {
		c.HandleEvent(id, Event{Kind: EventJoinRoom, Room: "lobby"})
	}
	c.HandleEvent("x", Event{Kind: EventFindPartner, Room: "lobby"})
	c.HandleEvent("y", Event{Kind: EventFindPartner, Room: "lobby"})
	c.HandleEvent("z", Event{Kind: EventFindPartner, Room: "lobby"})
	if msg := sinkZ.last(t); msg.Kind != OutboundWaitingPartner {
		t.Fatalf("z: got %+v, want waiting-partner while x/y are paired", msg)
	}

	c.Disconnect("x")

	if msg := sinkY.last(t); msg.Kind != OutboundPartnerLeft {
		t.Fatalf("y: got %+v, want partner-left", msg)
	}

	// y is free again and can pair with z.
	c.HandleEvent("y", Event{Kind: EventFindPartner, Room: "lobby"})
	if msg := sinkY.last(t); msg.Kind != OutboundPartnerFound || msg.PartnerID != "z" {
		t.Fatalf("y: got %+v, want partner-found z", msg)
	}
	if msg := sinkZ.last(t); msg.Kind != OutboundPartnerFound || msg.PartnerID != "y" {
		t.Fatalf("z: got %+v, want partner-found y", msg)
	}
}

func TestDisconnectIsIdempotentAndCleansRooms(t *testing.T) {
	c := newTestController(0)
	connect(t, c, "a")
	c.HandleEvent("a", Event{Kind: EventJoinRoom, Room: "lobby"})

	c.Disconnect("a")
	c.Disconnect("a")

	st := c.Stats()
	if st.Connections != 0 || st.Rooms != 0 {
		t.Fatalf("stats after disconnect = %+v, want zeros", st)
	}
	if got := c.Metrics().Get(metrics.Disconnects); got != 1 {
		t.Fatalf("Disconnects = %d, want 1 (second call is a no-op)", got)
	}
}

func TestEventsFromUnknownConnectionAreDropped(t *testing.T) {
	c := newTestController(0)
	c.HandleEvent("ghost", Event{Kind: EventJoinRoom, Room: "lobby"})
	c.HandleEvent("ghost", Event{Kind: EventFindPartner, Room: "lobby"})

	if st := c.Stats(); st.Rooms != 0 {
		t.Fatalf("unknown connection must not create rooms, got %+v", st)
	}
}

// TestConcurrentFindPartnerProducesValidMatching hammers the matcher from
// many goroutines and then checks the pairing relation is symmetric with no
// connection claimed twice.
func TestConcurrentFindPartnerProducesValidMatching(t *testing.T) {
	const n = 50

	c := newTestController(0)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("conn-%02d", i)
		connect(t, c, id)
		c.HandleEvent(id, Event{Kind: EventJoinRoom, Room: "lobby"})
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.HandleEvent(id, Event{Kind: EventFindPartner, Room: "lobby"})
		}(fmt.Sprintf("conn-%02d", i))
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	paired := 0
	for id, cn := range c.registry.conns {
		if cn.partner == "" {
			continue
		}
		paired++
		other := c.registry.get(cn.partner)
		if other == nil {
			t.Fatalf("%s paired with unknown %s", id, cn.partner)
		}
		if other.partner != id {
			t.Fatalf("asymmetric pairing: %s -> %s -> %s", id, cn.partner, other.partner)
		}
	}
	if paired != n {
		t.Fatalf("paired connections = %d, want all %d (even count)", paired, n)
	}
}

// TestPartnerFoundPrecedesPartnerLeftUnderRace races a fresh match against
// the new partner's disconnect and checks the surviving side never sees the
// partner-left before the partner-found it undoes.
func TestPartnerFoundPrecedesPartnerLeftUnderRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := newTestController(0)
		connect(t, c, "x")
		sinkY := connect(t, c, "y")
		c.HandleEvent("x", Event{Kind: EventJoinRoom, Room: "lobby"})
		c.HandleEvent("y", Event{Kind: EventJoinRoom, Room: "lobby"})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.HandleEvent("x", Event{Kind: EventFindPartner, Room: "lobby"})
		}()
		go func() {
			defer wg.Done()
			c.Disconnect("x")
		}()
		wg.Wait()

		found, left := -1, -1
		for idx, msg := range sinkY.all() {
			switch msg.Kind {
			case OutboundPartnerFound:
				if found == -1 {
					found = idx
				}
			case OutboundPartnerLeft:
				left = idx
			}
		}
		if left != -1 && found == -1 {
			t.Fatalf("iteration %d: partner-left with no preceding partner-found", i)
		}
		if left != -1 && left < found {
			t.Fatalf("iteration %d: partner-left at %d before partner-found at %d", i, left, found)
		}
	}
}
