package relay

import "sort"

// callSessions tracks ephemeral call rooms: roomId -> member connection ids,
// plus a reverse index so disconnect teardown is O(memberships) rather than a
// scan of every room. Rooms are created lazily on first join and destroyed
// when the last member leaves; an empty room never persists.
//
// Not safe for concurrent use; owned by the Hub goroutine.
type callSessions struct {
	rooms  map[string]map[string]struct{} // room id -> connection ids
	byConn map[string]map[string]struct{} // connection id -> room ids
}

func newCallSessions() *callSessions {
	return &callSessions{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// join adds a connection to a room and returns the membership snapshot taken
// strictly before the add. The snapshot is what the newcomer must be told
// about; taking it first keeps the joiner out of its own peer list.
func (c *callSessions) join(roomID, connID string) (existing []string) {
	members, ok := c.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		c.rooms[roomID] = members
	}

	existing = make([]string, 0, len(members))
	for id := range members {
		if id == connID {
			// Re-join of a current member; it is not its own peer.
			continue
		}
		existing = append(existing, id)
	}
	sort.Strings(existing)

	members[connID] = struct{}{}

	roomIDs, ok := c.byConn[connID]
	if !ok {
		roomIDs = make(map[string]struct{})
		c.byConn[connID] = roomIDs
	}
	roomIDs[roomID] = struct{}{}

	return existing
}

// departure records one room a connection left and who is still there.
type departure struct {
	roomID    string
	remaining []string
}

// leave removes a connection from one room, destroying the room if it became
// empty. ok is false when the connection was not a member.
func (c *callSessions) leave(roomID, connID string) (dep departure, ok bool) {
	members, exists := c.rooms[roomID]
	if !exists {
		return departure{}, false
	}
	if _, member := members[connID]; !member {
		return departure{}, false
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(c.rooms, roomID)
	}

	if roomIDs := c.byConn[connID]; roomIDs != nil {
		delete(roomIDs, roomID)
		if len(roomIDs) == 0 {
			delete(c.byConn, connID)
		}
	}

	remaining := make([]string, 0, len(members))
	for id := range members {
		remaining = append(remaining, id)
	}
	sort.Strings(remaining)
	return departure{roomID: roomID, remaining: remaining}, true
}

// leaveAll unwinds a connection's membership in every room it joined. The
// departures report each room's remaining members so the hub can notify them.
func (c *callSessions) leaveAll(connID string) []departure {
	roomIDs := make([]string, 0, len(c.byConn[connID]))
	for roomID := range c.byConn[connID] {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)

	deps := make([]departure, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		if dep, ok := c.leave(roomID, connID); ok {
			deps = append(deps, dep)
		}
	}
	return deps
}

// members returns a room's membership, sorted. Nil when the room is absent.
func (c *callSessions) members(roomID string) []string {
	set, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// roomIDs returns all live call room ids, sorted.
func (c *callSessions) roomIDs() []string {
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
