package relay

import "encoding/json"

// Event names carried on the wire. Inbound and outbound names mirror the
// browser protocol.
const (
	// Server -> client on connect; tells the client its connection id.
	EventWelcome = "welcome"

	// Chat.
	EventJoinRoom       = "joinRoom"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"

	// Call rooms.
	EventJoinCall   = "join-call"
	EventAllUsers   = "all-users"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"

	// WebRTC signaling, relayed 1:1.
	EventOffer        = "webrtc-offer"
	EventAnswer       = "webrtc-answer"
	EventICECandidate = "webrtc-ice-candidate"

	// Server -> client on rejected input.
	EventError = "error"
)

// Envelope is the wire frame: a JSON text message tagging an event kind with
// an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw WebSocket text frame.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// chatEndpoints is the subset of a chat payload the relay inspects. The full
// payload is forwarded verbatim; the relay only derives the room key from it.
type chatEndpoints struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

type joinCallRequest struct {
	RoomID string `json:"roomId"`
}

// welcomePayload is sent once per connection, immediately after registration.
type welcomePayload struct {
	ConnectionID string `json:"connectionId"`
}

// errorPayload mirrors the HTTP boundary's generic failure shape.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// signalInbound is a signaling payload as sent by a peer: the SDP or candidate
// body plus the target connection id. Exactly one of Offer/Answer/Candidate is
// expected to be set, matching the event kind; the relay does not interpret it.
type signalInbound struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	To        string          `json:"to"`
}

// signalOutbound is the forwarded form: same opaque body, with the sender's
// connection id attached in place of the target.
type signalOutbound struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      string          `json:"from"`
}

// mustJSON marshals values the relay itself constructs. Those types cannot
// fail to marshal, so errors collapse to null rather than propagating.
func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

func errorEnvelope(code, message string) Envelope {
	return Envelope{
		Event: EventError,
		Data:  mustJSON(errorPayload{Code: code, Message: message}),
	}
}
