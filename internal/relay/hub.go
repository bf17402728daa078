package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/anirudhms/chatrelay/internal/metrics"
)

// conn is the hub's view of a registered connection. deliver must not block:
// implementations enqueue onto a bounded send buffer and drop the connection
// if the buffer is full.
type conn interface {
	ID() string
	deliver(Envelope)
}

type inbound struct {
	from string
	env  Envelope
}

type queryKind int

const (
	queryCallRooms queryKind = iota
	queryChatRooms
)

type query struct {
	kind  queryKind
	reply chan []string
}

// Hub owns the connection registry and the chat/call room tables. A single
// Run goroutine consumes all mutating events, so handlers never race and the
// snapshot-before-mutate ordering in call joins is trivially preserved.
type Hub struct {
	log *slog.Logger
	mtx *metrics.Metrics

	register   chan conn
	unregister chan string
	events     chan inbound
	queries    chan query

	done     chan struct{}
	stopOnce sync.Once

	// Owned by the Run goroutine.
	conns map[string]conn
	chat  *chatRouter
	calls *callSessions
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		log: logger,
		mtx: m,

		register:   make(chan conn),
		unregister: make(chan string),
		events:     make(chan inbound),
		queries:    make(chan query),
		done:       make(chan struct{}),

		conns: make(map[string]conn),
		chat:  newChatRouter(),
		calls: newCallSessions(),
	}
}

// Run processes events until Stop is called. It must run in exactly one
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case c := <-h.register:
			h.handleRegister(c)
		case id := <-h.unregister:
			h.handleDisconnect(id)
		case in := <-h.events:
			h.handleEvent(in.from, in.env)
		case q := <-h.queries:
			q.reply <- h.handleQuery(q.kind)
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a connection to the registry. The welcome event telling the
// client its connection id is delivered from inside the hub goroutine, so it
// precedes anything else the hub sends to this connection.
func (h *Hub) Register(c conn) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister tears down all of a connection's room memberships and discards
// its registry record. Unknown ids are a no-op.
func (h *Hub) Unregister(connID string) {
	select {
	case h.unregister <- connID:
	case <-h.done:
	}
}

// Dispatch hands one inbound event to the hub.
func (h *Hub) Dispatch(from string, env Envelope) {
	select {
	case h.events <- inbound{from: from, env: env}:
	case <-h.done:
	}
}

// CallRooms returns the ids of all live call rooms.
func (h *Hub) CallRooms(ctx context.Context) ([]string, error) {
	return h.query(ctx, queryCallRooms)
}

// ChatRooms returns the keys of all live chat rooms.
func (h *Hub) ChatRooms(ctx context.Context) ([]string, error) {
	return h.query(ctx, queryChatRooms)
}

func (h *Hub) query(ctx context.Context, kind queryKind) ([]string, error) {
	q := query{kind: kind, reply: make(chan []string, 1)}
	select {
	case h.queries <- q:
	case <-h.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-q.reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) handleRegister(c conn) {
	h.conns[c.ID()] = c
	h.mtx.Inc(metrics.ConnectionOpened)
	h.log.Debug("connection registered", "conn_id", c.ID())

	c.deliver(Envelope{
		Event: EventWelcome,
		Data:  mustJSON(welcomePayload{ConnectionID: c.ID()}),
	})
}

func (h *Hub) handleDisconnect(connID string) {
	if _, ok := h.conns[connID]; !ok {
		return
	}
	delete(h.conns, connID)

	h.chat.dropConn(connID)

	for _, dep := range h.calls.leaveAll(connID) {
		h.mtx.Inc(metrics.CallLeave)
		h.notifyLeft(dep, connID)
	}

	h.mtx.Inc(metrics.ConnectionClosed)
	h.log.Debug("connection unregistered", "conn_id", connID)
}

func (h *Hub) notifyLeft(dep departure, connID string) {
	left := Envelope{Event: EventUserLeft, Data: mustJSON(connID)}
	for _, memberID := range dep.remaining {
		if member, ok := h.conns[memberID]; ok {
			member.deliver(left)
		}
	}
	h.log.Debug("left call room",
		"conn_id", connID, "room_id", dep.roomID, "remaining", len(dep.remaining))
}

func (h *Hub) handleEvent(from string, env Envelope) {
	sender, ok := h.conns[from]
	if !ok {
		// Raced with its own disconnect; nothing to deliver replies to.
		return
	}

	switch env.Event {
	case EventJoinRoom:
		h.handleJoinRoom(sender, env.Data)
	case EventSendMessage:
		h.handleSendMessage(sender, env.Data)
	case EventJoinCall:
		h.handleJoinCall(sender, env.Data)
	case EventOffer, EventAnswer, EventICECandidate:
		h.handleSignal(sender, env.Event, env.Data)
	default:
		h.mtx.Inc(metrics.EventDropped)
		h.log.Warn("unknown event", "conn_id", from, "event", env.Event)
		sender.deliver(errorEnvelope("unknown_event", "unknown event "+env.Event))
	}
}

func (h *Hub) handleJoinRoom(sender conn, data json.RawMessage) {
	var req chatEndpoints
	if err := json.Unmarshal(data, &req); err != nil || !validUserID(req.Sender) || !validUserID(req.Receiver) {
		h.rejectChat(sender, "joinRoom requires sender and receiver")
		return
	}

	key := ChatKey(req.Sender, req.Receiver)
	h.chat.join(key, sender.ID())
	h.mtx.Inc(metrics.ChatJoin)
	h.log.Debug("joined chat room", "conn_id", sender.ID(), "room", key)
}

func (h *Hub) handleSendMessage(sender conn, data json.RawMessage) {
	var msg chatEndpoints
	if err := json.Unmarshal(data, &msg); err != nil || !validUserID(msg.Sender) || !validUserID(msg.Receiver) {
		h.rejectChat(sender, "sendMessage requires sender and receiver")
		return
	}

	// The payload is forwarded verbatim: the relay derives the room key from
	// it but never rewrites or interprets it.
	key := ChatKey(msg.Sender, msg.Receiver)
	out := Envelope{Event: EventReceiveMessage, Data: data}
	for _, subID := range h.chat.subscribers(key) {
		if sub, ok := h.conns[subID]; ok {
			sub.deliver(out)
		}
	}
	h.mtx.Inc(metrics.ChatMessage)
}

func (h *Hub) rejectChat(sender conn, message string) {
	h.mtx.Inc(metrics.ChatDropped)
	h.log.Warn("invalid chat event", "conn_id", sender.ID(), "reason", message)
	sender.deliver(errorEnvelope("invalid_message", message))
}

func (h *Hub) handleJoinCall(sender conn, data json.RawMessage) {
	var req joinCallRequest
	if err := json.Unmarshal(data, &req); err != nil || !validUserID(req.RoomID) {
		h.mtx.Inc(metrics.EventDropped)
		h.log.Warn("invalid join-call", "conn_id", sender.ID())
		sender.deliver(errorEnvelope("invalid_message", "join-call requires roomId"))
		return
	}

	// Snapshot the current membership before adding the joiner, so the peer
	// list sent to the joiner never includes itself.
	existing := h.calls.join(req.RoomID, sender.ID())

	sender.deliver(Envelope{Event: EventAllUsers, Data: mustJSON(existing)})

	joined := Envelope{Event: EventUserJoined, Data: mustJSON(sender.ID())}
	for _, memberID := range existing {
		if member, ok := h.conns[memberID]; ok {
			member.deliver(joined)
		}
	}

	h.mtx.Inc(metrics.CallJoin)
	h.log.Debug("joined call room",
		"conn_id", sender.ID(), "room_id", req.RoomID, "peers", len(existing))
}

func (h *Hub) handleSignal(sender conn, event string, data json.RawMessage) {
	var in signalInbound
	if err := json.Unmarshal(data, &in); err != nil || in.To == "" {
		h.mtx.Inc(metrics.EventDropped)
		h.log.Warn("invalid signaling event", "conn_id", sender.ID(), "event", event)
		sender.deliver(errorEnvelope("invalid_message", event+" requires a target connection id"))
		return
	}

	target, ok := h.conns[in.To]
	if !ok {
		// Signaling is best-effort: an unknown target is dropped silently and
		// the peer is expected to time out and retry at the application layer.
		h.mtx.Inc(metrics.SignalDropped)
		h.log.Debug("signal target not connected",
			"conn_id", sender.ID(), "event", event, "target", in.To)
		return
	}

	target.deliver(Envelope{
		Event: event,
		Data: mustJSON(signalOutbound{
			Offer:     in.Offer,
			Answer:    in.Answer,
			Candidate: in.Candidate,
			From:      sender.ID(),
		}),
	})
	h.mtx.Inc(metrics.SignalRelayed)
}

func (h *Hub) handleQuery(kind queryKind) []string {
	switch kind {
	case queryCallRooms:
		return h.calls.roomIDs()
	case queryChatRooms:
		return h.chat.roomKeys()
	default:
		return nil
	}
}
