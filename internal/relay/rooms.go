package relay

// RoomDirectory maps room names to member sets. A reverse index (connection
// id -> joined rooms) makes disconnect cleanup O(rooms joined) instead of a
// scan over every room.
//
// Invariant: a room with zero members is removed immediately, so Rooms never
// contains an empty set.
type RoomDirectory struct {
	rooms  map[string]map[string]struct{}
	joined map[string]map[string]struct{}
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds id to the named room, creating the room lazily. Joining a room
// twice is a no-op.
func (d *RoomDirectory) Join(room, id string) {
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[room] = members
	}
	members[id] = struct{}{}

	rooms, ok := d.joined[id]
	if !ok {
		rooms = make(map[string]struct{})
		d.joined[id] = rooms
	}
	rooms[room] = struct{}{}
}

// Leave removes id from the named room, deleting the room once empty.
// Unknown rooms or non-members are a no-op.
func (d *RoomDirectory) Leave(room, id string) {
	members, ok := d.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(d.rooms, room)
	}

	if rooms, ok := d.joined[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(d.joined, id)
		}
	}
}

// LeaveAll removes id from every room it belongs to.
func (d *RoomDirectory) LeaveAll(id string) {
	for room := range d.joined[id] {
		members := d.rooms[room]
		delete(members, id)
		if len(members) == 0 {
			delete(d.rooms, room)
		}
	}
	delete(d.joined, id)
}

// Members returns the current member ids of room, or nil if the room does
// not exist. The returned slice is a copy in no particular order.
func (d *RoomDirectory) Members(room string) []string {
	members := d.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Contains reports whether id is a member of room.
func (d *RoomDirectory) Contains(room, id string) bool {
	_, ok := d.rooms[room][id]
	return ok
}

// RoomCount returns the number of non-empty rooms.
func (d *RoomDirectory) RoomCount() int {
	return len(d.rooms)
}

// TotalConnections returns the number of distinct connections joined to at
// least one room.
func (d *RoomDirectory) TotalConnections() int {
	return len(d.joined)
}
