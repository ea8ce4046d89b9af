package relay

import (
	"log/slog"
	"sync"

	"github.com/pairloop/signaling-relay/internal/metrics"
)

// Stats is a point-in-time snapshot for the status endpoint. Connections
// counts distinct clients joined to at least one room, not raw sockets.
type Stats struct {
	Rooms       int
	Connections int
}

// Controller orchestrates connect/join/find-partner/relay/disconnect
// transitions across the registry, room directory, matcher, and router.
//
// Every state mutation happens under mu, so each transition runs to
// completion before the next begins. In particular the pairing
// match-and-commit is atomic: two concurrent find-partner calls can never
// both claim the same unmatched candidate. Outbound notifications are
// enqueued under the same mutex, so every sink observes them in commit
// order (a partner-left can never precede the partner-found it undoes).
type Controller struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	// maxConnections caps live connections; <= 0 means unlimited.
	maxConnections int

	mu       sync.Mutex
	registry *Registry
	rooms    *RoomDirectory
	matcher  *Matcher
	router   *Router
}

type ControllerConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// MaxConnections caps live connections (0 = unlimited).
	MaxConnections int
}

func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	registry := NewRegistry()
	rooms := NewRoomDirectory()
	return &Controller{
		log:            logger,
		metrics:        m,
		maxConnections: cfg.MaxConnections,
		registry:       registry,
		rooms:          rooms,
		matcher:        NewMatcher(registry, rooms),
		router:         NewRouter(registry),
	}
}

func (c *Controller) Metrics() *metrics.Metrics { return c.metrics }

// Connect registers a new connection and acknowledges it with its assigned
// id. The connection cap is checked atomically with registration.
func (c *Controller) Connect(id string, sink Sink) error {
	c.mu.Lock()
	if c.maxConnections > 0 && c.registry.Len() >= c.maxConnections {
		c.mu.Unlock()
		c.metrics.Inc(metrics.DropReasonFull)
		return ErrTooManyConnections
	}
	c.registry.Register(id, sink)
	sink.Deliver(Outbound{Kind: OutboundConnected, ID: id})
	c.mu.Unlock()

	c.metrics.Inc(metrics.Connects)
	c.log.Info("client connected", "id", id)
	return nil
}

// HandleEvent dispatches a single client event. Events from unknown
// connections (already disconnected) are dropped.
func (c *Controller) HandleEvent(id string, ev Event) {
	switch ev.Kind {
	case EventJoinRoom:
		c.joinRoom(id, ev.Room)
	case EventFindPartner:
		c.findPartner(id, ev.Room)
	case EventSignal:
		c.signal(id, ev)
	}
}

func (c *Controller) joinRoom(id, room string) {
	c.mu.Lock()
	cn := c.registry.get(id)
	if cn == nil {
		c.mu.Unlock()
		return
	}
	c.rooms.Join(room, id)
	cn.sink.Deliver(Outbound{Kind: OutboundRoomJoined, Room: room})
	c.mu.Unlock()

	c.metrics.Inc(metrics.RoomJoins)
	c.log.Info("client joined room", "id", id, "room", room)
}

func (c *Controller) findPartner(id, room string) {
	c.mu.Lock()
	cn := c.registry.get(id)
	if cn == nil {
		c.mu.Unlock()
		return
	}
	alreadyPaired := cn.partner != ""
	res := c.matcher.FindPartner(room, id)

	fresh := false
	switch res.Status {
	case Paired:
		cn.sink.Deliver(Outbound{Kind: OutboundPartnerFound, PartnerID: res.PartnerID})
		// A fresh match notifies both sides; re-delivery of an existing
		// partner only answers the requester.
		if !alreadyPaired {
			if partner := c.registry.get(res.PartnerID); partner != nil {
				partner.sink.Deliver(Outbound{Kind: OutboundPartnerFound, PartnerID: id})
				fresh = true
			}
		}
	case Waiting:
		cn.sink.Deliver(Outbound{Kind: OutboundWaitingPartner})
	}
	c.mu.Unlock()

	switch {
	case fresh:
		c.metrics.Inc(metrics.PairsMatched)
		c.log.Info("clients paired", "id", id, "partner", res.PartnerID, "room", room)
	case res.Status == Waiting:
		c.metrics.Inc(metrics.PartnerWaiting)
	}
}

func (c *Controller) signal(id string, ev Event) {
	c.mu.Lock()
	delivered := c.router.Relay(id, ev.Target, ev.Signal, ev.Payload)
	c.mu.Unlock()

	if delivered {
		c.metrics.Inc(metrics.SignalsRelayed)
		c.log.Debug("signal relayed", "kind", string(ev.Signal), "from", id, "to", ev.Target)
	} else {
		c.metrics.Inc(metrics.DropReasonNoTarget)
		c.log.Debug("signal dropped", "kind", string(ev.Signal), "from", id, "to", ev.Target)
	}
}

// Disconnect unwinds all state for id: the remaining partner (if any) is
// notified and unpaired, id leaves every room, and the registry entry goes
// away. Idempotent.
func (c *Controller) Disconnect(id string) {
	c.mu.Lock()
	cn := c.registry.get(id)
	if cn == nil {
		c.mu.Unlock()
		return
	}

	if cn.partner != "" {
		// A partner that disconnected first is simply gone; skip it.
		if partner := c.registry.get(cn.partner); partner != nil {
			partner.partner = ""
			partner.sink.Deliver(Outbound{Kind: OutboundPartnerLeft})
		}
	}
	c.rooms.LeaveAll(id)
	c.registry.Unregister(id)
	c.mu.Unlock()

	c.metrics.Inc(metrics.Disconnects)
	c.log.Info("client disconnected", "id", id)
}

// Stats recomputes aggregate counts on demand from the room directory, so a
// client that connected but never joined a room is not reported.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Rooms:       c.rooms.RoomCount(),
		Connections: c.rooms.TotalConnections(),
	}
}
