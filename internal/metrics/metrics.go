package metrics

import "sync"

// Event counter names used by the relay.
const (
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"

	ChatJoin       = "chat_join"
	ChatMessage    = "chat_message"
	ChatDropped    = "chat_dropped_invalid"
	CallJoin       = "call_join"
	CallLeave      = "call_leave"
	SignalRelayed  = "signal_relayed"
	SignalDropped  = "signal_dropped_unknown_target"
	EventDropped   = "event_dropped_malformed"
	RateLimited    = "connection_rate_limited"
	SlowConsumer   = "connection_slow_consumer"
	StoreUserRead  = "store_user_read"
	StoreUserWrite = "store_user_write"
	StoreMsgRead   = "store_message_read"
	StoreMsgWrite  = "store_message_write"
	UploadStored   = "upload_stored"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Counters are scraped via PrometheusHandler; keeping the registry in-process
// keeps the relay's drop/relay accounting testable without a metrics backend.
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
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
