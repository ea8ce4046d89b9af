package relay

// conn is the registry's record of one live connection. The partner field is
// mutated only by the Controller; room membership lives in the RoomDirectory.
type conn struct {
	id string

	// seq is a monotonic join sequence used for deterministic partner
	// selection (lowest sequence wins).
	seq uint64

	// partner is the paired connection's id, or "" while unmatched.
	partner string

	sink Sink
}

// Registry tracks every currently connected client by id. It is pure
// bookkeeping: no policy, no locking (the Controller serializes access).
type Registry struct {
	conns   map[string]*conn
	nextSeq uint64
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*conn)}
}

// Register records a new connection with no partner assigned. Ids are
// assumed unique; they are assigned by the transport layer.
func (r *Registry) Register(id string, sink Sink) {
	r.nextSeq++
	r.conns[id] = &conn{id: id, seq: r.nextSeq, sink: sink}
}

// Unregister removes all registry state for id. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) {
	delete(r.conns, id)
}

func (r *Registry) Exists(id string) bool {
	_, ok := r.conns[id]
	return ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

func (r *Registry) get(id string) *conn {
	return r.conns[id]
}
