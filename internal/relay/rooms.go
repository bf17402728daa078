package relay

import (
	"sort"
	"strings"
)

// chatKeySeparator joins the sorted user pair into a room key. Kept stable:
// clients persist nothing, but both sides must always derive the same key.
const chatKeySeparator = "_"

// ChatKey derives the chat room key for a pair of user identifiers. It is
// symmetric: ChatKey(a, b) == ChatKey(b, a), so both participants compute the
// same room regardless of who initiates.
func ChatKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + chatKeySeparator + userB
}

// chatRouter tracks which connections subscribe to which chat room keys.
// Not safe for concurrent use; owned by the Hub goroutine.
type chatRouter struct {
	subs   map[string]map[string]struct{} // room key -> connection ids
	byConn map[string]map[string]struct{} // connection id -> room keys
}

func newChatRouter() *chatRouter {
	return &chatRouter{
		subs:   make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// join subscribes a connection to a room key. Idempotent.
func (r *chatRouter) join(key, connID string) {
	set, ok := r.subs[key]
	if !ok {
		set = make(map[string]struct{})
		r.subs[key] = set
	}
	set[connID] = struct{}{}

	keys, ok := r.byConn[connID]
	if !ok {
		keys = make(map[string]struct{})
		r.byConn[connID] = keys
	}
	keys[key] = struct{}{}
}

// subscribers returns the connections subscribed to key, sorted for
// deterministic fan-out order.
func (r *chatRouter) subscribers(key string) []string {
	set := r.subs[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// dropConn removes a connection from every room it subscribed to, deleting
// rooms that become empty.
func (r *chatRouter) dropConn(connID string) {
	for key := range r.byConn[connID] {
		set := r.subs[key]
		delete(set, connID)
		if len(set) == 0 {
			delete(r.subs, key)
		}
	}
	delete(r.byConn, connID)
}

// roomKeys returns all live chat room keys, sorted. Used by tests and the
// introspection endpoint.
func (r *chatRouter) roomKeys() []string {
	out := make([]string, 0, len(r.subs))
	for key := range r.subs {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// validUserID rejects the identifiers the router refuses to derive keys from.
func validUserID(id string) bool {
	return strings.TrimSpace(id) != ""
}
