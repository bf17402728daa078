package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/anirudhms/chatrelay/internal/metrics"
)

// fakeConn records everything the hub delivers to it.
type fakeConn struct {
	id  string
	got []Envelope
}

func (f *fakeConn) ID() string            { return f.id }
func (f *fakeConn) deliver(env Envelope)  { f.got = append(f.got, env) }
func (f *fakeConn) reset()                { f.got = nil }
func (f *fakeConn) last(t *testing.T) Envelope {
	t.Helper()
	if len(f.got) == 0 {
		t.Fatalf("conn %s received nothing", f.id)
	}
	return f.got[len(f.got)-1]
}

// newTestHub returns a hub whose handlers are invoked directly, mirroring the
// single-goroutine execution model without running the event loop.
func newTestHub() (*Hub, *metrics.Metrics) {
	m := metrics.New()
	return NewHub(nil, m), m
}

func register(h *Hub, id string) *fakeConn {
	c := &fakeConn{id: id}
	h.handleRegister(c)
	c.reset() // discard the welcome event
	return c
}

func event(h *Hub, from, name string, payload any) {
	h.handleEvent(from, Envelope{Event: name, Data: mustJSON(payload)})
}

func decodeString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("decode string payload: %v", err)
	}
	return s
}

func decodeStrings(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	var s []string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("decode string list payload: %v", err)
	}
	return s
}

func TestHub_WelcomeOnRegister(t *testing.T) {
	h, _ := newTestHub()
	c := &fakeConn{id: "A"}
	h.handleRegister(c)

	env := c.last(t)
	if env.Event != EventWelcome {
		t.Fatalf("event=%s, want %s", env.Event, EventWelcome)
	}
	var p welcomePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if p.ConnectionID != "A" {
		t.Fatalf("connectionId=%q, want A", p.ConnectionID)
	}
}

func TestHub_ChatFanOut(t *testing.T) {
	h, m := newTestHub()
	x := register(h, "X")
	y := register(h, "Y")
	z := register(h, "Z") // not subscribed

	event(h, "X", EventJoinRoom, map[string]string{"sender": "u1", "receiver": "u2"})
	event(h, "Y", EventJoinRoom, map[string]string{"sender": "u2", "receiver": "u1"})

	event(h, "X", EventSendMessage, map[string]string{"sender": "u1", "receiver": "u2", "text": "hi"})

	for _, c := range []*fakeConn{x, y} {
		env := c.last(t)
		if env.Event != EventReceiveMessage {
			t.Fatalf("conn %s event=%s, want %s", c.id, env.Event, EventReceiveMessage)
		}
		var body map[string]string
		if err := json.Unmarshal(env.Data, &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["text"] != "hi" {
			t.Fatalf("conn %s text=%q, want hi", c.id, body["text"])
		}
	}
	if len(z.got) != 0 {
		t.Fatalf("unsubscribed conn received %v", z.got)
	}
	if got := m.Get(metrics.ChatMessage); got != 1 {
		t.Fatalf("chat_message counter=%d, want 1", got)
	}
}

func TestHub_ChatJoinIdempotentAcrossSessions(t *testing.T) {
	h, _ := newTestHub()
	x := register(h, "X")

	event(h, "X", EventJoinRoom, map[string]string{"sender": "u1", "receiver": "u2"})
	event(h, "X", EventJoinRoom, map[string]string{"sender": "u2", "receiver": "u1"})

	subs := h.chat.subscribers(ChatKey("u1", "u2"))
	if len(subs) != 1 || subs[0] != "X" {
		t.Fatalf("subscribers=%v, want [X]", subs)
	}

	// The sender's own subscription receives its own messages.
	event(h, "X", EventSendMessage, map[string]string{"sender": "u1", "receiver": "u2", "text": "self"})
	if env := x.last(t); env.Event != EventReceiveMessage {
		t.Fatalf("event=%s, want %s", env.Event, EventReceiveMessage)
	}
}

func TestHub_ChatValidation(t *testing.T) {
	h, m := newTestHub()
	x := register(h, "X")

	event(h, "X", EventJoinRoom, map[string]string{"sender": "", "receiver": "u2"})

	env := x.last(t)
	if env.Event != EventError {
		t.Fatalf("event=%s, want %s", env.Event, EventError)
	}
	var p errorPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != "invalid_message" {
		t.Fatalf("code=%q, want invalid_message", p.Code)
	}
	if got := m.Get(metrics.ChatDropped); got != 1 {
		t.Fatalf("chat_dropped counter=%d, want 1", got)
	}
	if keys := h.chat.roomKeys(); len(keys) != 0 {
		t.Fatalf("roomKeys=%v, want none", keys)
	}
}

func TestHub_JoinCallChoreography(t *testing.T) {
	h, _ := newTestHub()
	a := register(h, "A")
	b := register(h, "B")

	event(h, "A", EventJoinCall, map[string]string{"roomId": "r1"})

	env := a.last(t)
	if env.Event != EventAllUsers {
		t.Fatalf("A event=%s, want %s", env.Event, EventAllUsers)
	}
	if users := decodeStrings(t, env.Data); len(users) != 0 {
		t.Fatalf("A all-users=%v, want empty", users)
	}

	a.reset()
	event(h, "B", EventJoinCall, map[string]string{"roomId": "r1"})

	env = b.last(t)
	if env.Event != EventAllUsers {
		t.Fatalf("B event=%s, want %s", env.Event, EventAllUsers)
	}
	if users := decodeStrings(t, env.Data); len(users) != 1 || users[0] != "A" {
		t.Fatalf("B all-users=%v, want [A]", users)
	}

	env = a.last(t)
	if env.Event != EventUserJoined {
		t.Fatalf("A event=%s, want %s", env.Event, EventUserJoined)
	}
	if who := decodeString(t, env.Data); who != "B" {
		t.Fatalf("A user-joined=%q, want B", who)
	}
}

func TestHub_DisconnectTeardown(t *testing.T) {
	h, _ := newTestHub()
	register(h, "A")
	b := register(h, "B")

	event(h, "A", EventJoinCall, map[string]string{"roomId": "r1"})
	event(h, "B", EventJoinCall, map[string]string{"roomId": "r1"})
	b.reset()

	h.handleDisconnect("A")

	env := b.last(t)
	if env.Event != EventUserLeft {
		t.Fatalf("B event=%s, want %s", env.Event, EventUserLeft)
	}
	if who := decodeString(t, env.Data); who != "A" {
		t.Fatalf("user-left=%q, want A", who)
	}
	if members := h.calls.members("r1"); len(members) != 1 || members[0] != "B" {
		t.Fatalf("members=%v, want [B]", members)
	}

	h.handleDisconnect("B")
	if rooms := h.calls.roomIDs(); len(rooms) != 0 {
		t.Fatalf("roomIDs=%v, want none", rooms)
	}

	// Disconnect of an unknown id is a no-op.
	h.handleDisconnect("ghost")
}

func TestHub_SignalRelayIsTargeted(t *testing.T) {
	h, m := newTestHub()
	a := register(h, "A")
	b := register(h, "B")
	c := register(h, "C")

	// All three share a call room; the offer must still reach only B.
	event(h, "A", EventJoinCall, map[string]string{"roomId": "r1"})
	event(h, "B", EventJoinCall, map[string]string{"roomId": "r1"})
	event(h, "C", EventJoinCall, map[string]string{"roomId": "r1"})
	a.reset()
	b.reset()
	c.reset()

	offer := map[string]any{"offer": map[string]string{"type": "offer", "sdp": "v=0"}, "to": "B"}
	event(h, "A", EventOffer, offer)

	env := b.last(t)
	if env.Event != EventOffer {
		t.Fatalf("B event=%s, want %s", env.Event, EventOffer)
	}
	var out struct {
		Offer json.RawMessage `json:"offer"`
		From  string          `json:"from"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode relayed offer: %v", err)
	}
	if out.From != "A" {
		t.Fatalf("from=%q, want A", out.From)
	}
	if len(out.Offer) == 0 {
		t.Fatalf("offer body missing")
	}
	if len(a.got) != 0 || len(c.got) != 0 {
		t.Fatalf("offer broadcast beyond target: A=%v C=%v", a.got, c.got)
	}
	if got := m.Get(metrics.SignalRelayed); got != 1 {
		t.Fatalf("signal_relayed counter=%d, want 1", got)
	}
}

func TestHub_SignalUnknownTargetSilentlyDropped(t *testing.T) {
	h, m := newTestHub()
	a := register(h, "A")

	event(h, "A", EventAnswer, map[string]any{"answer": map[string]string{"type": "answer"}, "to": "nobody"})

	if len(a.got) != 0 {
		t.Fatalf("sender received %v, want nothing (silent drop)", a.got)
	}
	if got := m.Get(metrics.SignalDropped); got != 1 {
		t.Fatalf("signal_dropped counter=%d, want 1", got)
	}
}

func TestHub_SignalWithoutTargetRejected(t *testing.T) {
	h, m := newTestHub()
	a := register(h, "A")

	event(h, "A", EventICECandidate, map[string]any{"candidate": map[string]string{"candidate": "cand"}})

	env := a.last(t)
	if env.Event != EventError {
		t.Fatalf("event=%s, want %s", env.Event, EventError)
	}
	if got := m.Get(metrics.EventDropped); got != 1 {
		t.Fatalf("event_dropped counter=%d, want 1", got)
	}
}

func TestHub_UnknownEvent(t *testing.T) {
	h, m := newTestHub()
	a := register(h, "A")

	event(h, "A", "dance", map[string]string{})

	if env := a.last(t); env.Event != EventError {
		t.Fatalf("event=%s, want %s", env.Event, EventError)
	}
	if got := m.Get(metrics.EventDropped); got != 1 {
		t.Fatalf("event_dropped counter=%d, want 1", got)
	}
}

func TestHub_RoomQueries(t *testing.T) {
	h, _ := newTestHub()
	go h.Run()
	defer h.Stop()

	a := &fakeConn{id: "A"}
	h.Register(a)
	h.Dispatch("A", Envelope{Event: EventJoinCall, Data: mustJSON(map[string]string{"roomId": "r9"})})
	h.Dispatch("A", Envelope{Event: EventJoinRoom, Data: mustJSON(map[string]string{"sender": "u1", "receiver": "u2"})})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rooms, err := h.CallRooms(ctx)
	if err != nil {
		t.Fatalf("CallRooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "r9" {
		t.Fatalf("CallRooms=%v, want [r9]", rooms)
	}

	chats, err := h.ChatRooms(ctx)
	if err != nil {
		t.Fatalf("ChatRooms: %v", err)
	}
	if len(chats) != 1 || chats[0] != "u1_u2" {
		t.Fatalf("ChatRooms=%v, want [u1_u2]", chats)
	}
}
