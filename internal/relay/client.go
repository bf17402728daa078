package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anirudhms/chatrelay/internal/metrics"
	"github.com/anirudhms/chatrelay/internal/ratelimit"
)

// ConnOptions carries the per-connection hardening knobs.
type ConnOptions struct {
	// IdleTimeout bounds how long the relay waits for any frame (including
	// pong replies) before dropping the connection.
	IdleTimeout time.Duration
	// PingInterval must be shorter than IdleTimeout.
	PingInterval time.Duration
	WriteTimeout time.Duration

	MaxMessageBytes int64
	// MaxMessagesPerSecond caps inbound events per connection; <= 0 disables
	// the limit.
	MaxMessagesPerSecond int
	// SendBuffer is the outbound queue length; a connection that falls this
	// far behind is dropped rather than blocking the hub.
	SendBuffer int
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.IdleTimeout {
		o.PingInterval = o.IdleTimeout * 9 / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Client is one live WebSocket connection. The read pump feeds events to the
// hub; the write pump drains the send buffer and keeps the connection alive
// with pings.
type Client struct {
	id  string
	hub *Hub
	ws  *websocket.Conn
	log *slog.Logger
	mtx *metrics.Metrics

	opts    ConnOptions
	limiter *ratelimit.TokenBucket

	send      chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newClient(id string, hub *Hub, ws *websocket.Conn, logger *slog.Logger, m *metrics.Metrics, opts ConnOptions) *Client {
	opts = opts.withDefaults()

	var limiter *ratelimit.TokenBucket
	if opts.MaxMessagesPerSecond > 0 {
		limiter = ratelimit.NewTokenBucket(ratelimit.RealClock{},
			int64(opts.MaxMessagesPerSecond), int64(opts.MaxMessagesPerSecond))
	}

	return &Client{
		id:      id,
		hub:     hub,
		ws:      ws,
		log:     logger,
		mtx:     m,
		opts:    opts,
		limiter: limiter,
		send:    make(chan Envelope, opts.SendBuffer),
		closed:  make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// deliver enqueues an envelope without blocking the hub. A full buffer means
// the peer stopped draining; the connection is dropped so one slow consumer
// cannot stall room fan-out.
func (c *Client) deliver(env Envelope) {
	select {
	case c.send <- env:
	case <-c.closed:
	default:
		c.mtx.Inc(metrics.SlowConsumer)
		c.log.Warn("send buffer full, dropping connection", "conn_id", c.id)
		c.close()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// closeWith sends a close frame with a reason before tearing down. Safe to
// call concurrently with the write pump: gorilla allows WriteControl to race
// other writers.
func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.opts.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.close()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		c.close()
	}()

	c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	})

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("read error", "conn_id", c.id, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))

		if c.limiter != nil && !c.limiter.Allow(1) {
			c.mtx.Inc(metrics.RateLimited)
			c.log.Warn("message rate limit exceeded", "conn_id", c.id)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			c.mtx.Inc(metrics.EventDropped)
			continue
		}

		env, err := ParseEnvelope(raw)
		if err != nil {
			// A malformed frame never takes the connection down; log it and
			// keep serving the rest of the room.
			c.mtx.Inc(metrics.EventDropped)
			c.log.Warn("malformed event", "conn_id", c.id, "err", err)
			c.deliver(errorEnvelope("invalid_message", "malformed event"))
			continue
		}

		c.hub.Dispatch(c.id, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
