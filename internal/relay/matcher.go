package relay

// PairStatus is the outcome of a FindPartner call.
type PairStatus int

const (
	// Paired means a partner was found and both sides are now committed.
	Paired PairStatus = iota + 1
	// Waiting means no unmatched candidate exists in the room yet.
	Waiting
)

type PartnerResult struct {
	Status    PairStatus
	PartnerID string
}

// Matcher selects partners for unmatched connections. Candidate order is
// fixed: the unmatched room member with the lowest join sequence wins, which
// keeps selection deterministic regardless of map iteration order.
type Matcher struct {
	registry *Registry
	rooms    *RoomDirectory
}

func NewMatcher(registry *Registry, rooms *RoomDirectory) *Matcher {
	return &Matcher{registry: registry, rooms: rooms}
}

// FindPartner pairs requesterID with an unmatched member of room, committing
// both partner fields before returning. The caller must hold the Controller's
// state mutex, which is what makes the match-and-commit atomic: no concurrent
// call can claim the chosen candidate in between.
//
// A requester that is already paired gets its existing partner back and no
// state changes.
func (m *Matcher) FindPartner(room, requesterID string) PartnerResult {
	requester := m.registry.get(requesterID)
	if requester == nil {
		return PartnerResult{Status: Waiting}
	}
	if requester.partner != "" {
		return PartnerResult{Status: Paired, PartnerID: requester.partner}
	}

	var candidate *conn
	for _, id := range m.rooms.Members(room) {
		if id == requesterID {
			continue
		}
		member := m.registry.get(id)
		if member == nil || member.partner != "" {
			continue
		}
		if candidate == nil || member.seq < candidate.seq {
			candidate = member
		}
	}
	if candidate == nil {
		return PartnerResult{Status: Waiting}
	}

	requester.partner = candidate.id
	candidate.partner = requesterID
	return PartnerResult{Status: Paired, PartnerID: candidate.id}
}
