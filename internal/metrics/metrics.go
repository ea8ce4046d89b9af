package metrics

import "sync"

// Counter names used by the relay core and transport.
const (
	Connects            = "connects"
	Disconnects         = "disconnects"
	RoomJoins           = "room_joins"
	PairsMatched        = "pairs_matched"
	PartnerWaiting      = "partner_waiting"
	SignalsRelayed      = "signals_relayed"
	DropReasonNoTarget  = "signal_dropped_no_target"
	DropReasonRateLimit = "ws_closed_rate_limited"
	DropReasonBadInput  = "ws_closed_bad_message"
	DropReasonFull      = "ws_rejected_too_many_connections"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It deliberately stays a plain map so core logic remains testable without a
// metrics backend; /metrics exposes the counters in Prometheus text format.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
