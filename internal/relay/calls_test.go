package relay

import (
	"fmt"
	"testing"
)

func TestCallSessions_JoinSnapshotExcludesJoiner(t *testing.T) {
	c := newCallSessions()

	if existing := c.join("r1", "A"); len(existing) != 0 {
		t.Fatalf("first join existing=%v, want empty", existing)
	}
	if existing := c.join("r1", "B"); len(existing) != 1 || existing[0] != "A" {
		t.Fatalf("second join existing=%v, want [A]", existing)
	}

	// Re-joining must not report the connection as its own peer.
	if existing := c.join("r1", "B"); len(existing) != 1 || existing[0] != "A" {
		t.Fatalf("re-join existing=%v, want [A]", existing)
	}
	if members := c.members("r1"); len(members) != 2 {
		t.Fatalf("members=%v, want 2 entries", members)
	}
}

func TestCallSessions_LeaveDestroysEmptyRoom(t *testing.T) {
	c := newCallSessions()
	c.join("r1", "A")
	c.join("r1", "B")

	dep, ok := c.leave("r1", "A")
	if !ok {
		t.Fatalf("leave A failed")
	}
	if len(dep.remaining) != 1 || dep.remaining[0] != "B" {
		t.Fatalf("remaining=%v, want [B]", dep.remaining)
	}
	if rooms := c.roomIDs(); len(rooms) != 1 {
		t.Fatalf("roomIDs=%v, want [r1] still alive", rooms)
	}

	dep, ok = c.leave("r1", "B")
	if !ok {
		t.Fatalf("leave B failed")
	}
	if len(dep.remaining) != 0 {
		t.Fatalf("remaining=%v, want empty", dep.remaining)
	}
	if rooms := c.roomIDs(); len(rooms) != 0 {
		t.Fatalf("roomIDs=%v, want no rooms", rooms)
	}
	if members := c.members("r1"); members != nil {
		t.Fatalf("members=%v, want nil for absent room", members)
	}
}

func TestCallSessions_LeaveUnknown(t *testing.T) {
	c := newCallSessions()
	c.join("r1", "A")

	if _, ok := c.leave("ghost-room", "A"); ok {
		t.Fatalf("leave of unknown room succeeded")
	}
	if _, ok := c.leave("r1", "ghost-conn"); ok {
		t.Fatalf("leave of non-member succeeded")
	}
	if members := c.members("r1"); len(members) != 1 {
		t.Fatalf("members=%v, want [A] untouched", members)
	}
}

func TestCallSessions_LeaveAllSpansRooms(t *testing.T) {
	c := newCallSessions()
	c.join("r1", "A")
	c.join("r2", "A")
	c.join("r2", "B")

	deps := c.leaveAll("A")
	if len(deps) != 2 {
		t.Fatalf("departures=%v, want 2", deps)
	}
	// Departures are sorted by room id.
	if deps[0].roomID != "r1" || deps[1].roomID != "r2" {
		t.Fatalf("departure order=%v, want [r1 r2]", deps)
	}
	if len(deps[0].remaining) != 0 {
		t.Fatalf("r1 remaining=%v, want empty", deps[0].remaining)
	}
	if len(deps[1].remaining) != 1 || deps[1].remaining[0] != "B" {
		t.Fatalf("r2 remaining=%v, want [B]", deps[1].remaining)
	}

	if rooms := c.roomIDs(); len(rooms) != 1 || rooms[0] != "r2" {
		t.Fatalf("roomIDs=%v, want [r2]", rooms)
	}
	if deps := c.leaveAll("A"); len(deps) != 0 {
		t.Fatalf("second leaveAll=%v, want empty", deps)
	}
}

func TestCallSessions_NoEmptyRoomEverPersists(t *testing.T) {
	c := newCallSessions()

	// Drive a fixed mixed sequence of joins and teardowns and check the
	// invariant after every step.
	check := func(step string) {
		t.Helper()
		for _, roomID := range c.roomIDs() {
			if len(c.members(roomID)) == 0 {
				t.Fatalf("after %s: room %s exists with zero members", step, roomID)
			}
		}
	}

	for i := 0; i < 5; i++ {
		connID := fmt.Sprintf("conn%d", i)
		c.join("alpha", connID)
		check("join alpha " + connID)
		if i%2 == 0 {
			c.join("beta", connID)
			check("join beta " + connID)
		}
	}
	for i := 0; i < 5; i++ {
		c.leaveAll(fmt.Sprintf("conn%d", i))
		check(fmt.Sprintf("leaveAll conn%d", i))
	}
	if rooms := c.roomIDs(); len(rooms) != 0 {
		t.Fatalf("roomIDs=%v, want none after full teardown", rooms)
	}
}
