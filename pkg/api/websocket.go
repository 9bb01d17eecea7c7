package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidting0918/vegaexchange/pkg/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is handled by the REST server; the WS handshake itself
		// accepts any origin.
		return true
	},
}

// outboxCapacity is the bounded queue depth per client (spec.md §4.7).
const outboxCapacity = 256

// Hub tracks live WebSocket connections. Channel fan-out itself is the
// event bus's job (each Client is an eventbus.Subscriber); the hub only
// owns connection bookkeeping and the upgrade handshake.
type Hub struct {
	bus      *eventbus.Bus
	resolver AuthResolver
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub wired to bus for channel subscriptions.
func NewHub(bus *eventbus.Bus, resolver AuthResolver, log *zap.Logger) *Hub {
	return &Hub{bus: bus, resolver: resolver, log: log, clients: make(map[*Client]bool)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("ws client connected", zap.String("id", c.id), zap.Int("total", n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.bus.UnsubscribeAll(c)
	close(c.closed)
	h.log.Info("ws client disconnected", zap.String("id", c.id), zap.Int("total", n))
}

// queuedFrame is one pending outbound WS message, tagged with the
// channel it belongs to so the overflow policy can find same-channel
// victims.
type queuedFrame struct {
	channel string
	payload []byte
}

// Client is one authenticated WebSocket connection. It implements
// eventbus.Subscriber: bus.Publish calls Deliver directly, which must
// never block the publisher (spec.md §5, §9).
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	userID string // resolved from the connection token; "" if unauthenticated

	subsMu        sync.RWMutex
	subscriptions map[string]bool

	qmu      sync.Mutex
	queue    []queuedFrame
	overflow uint64

	notify chan struct{}
	closed chan struct{}
	log    *zap.Logger
}

// Deliver implements eventbus.Subscriber. Bounded-latest semantics: if
// the outbox is at capacity, the oldest pending message for the SAME
// channel is dropped to make room; if none is pending for that channel,
// the oldest message overall is dropped instead (spec.md §4.7).
func (c *Client) Deliver(event eventbus.Event) {
	frame := WSServerFrame{Channel: event.Channel, Symbol: event.Symbol, Data: event.Data}
	payload, err := json.Marshal(frame)
	if err != nil {
		c.log.Warn("ws frame marshal failed", zap.Error(err))
		return
	}

	c.qmu.Lock()
	if len(c.queue) >= outboxCapacity {
		victim := -1
		for i, f := range c.queue {
			if f.channel == event.Channel {
				victim = i
				break
			}
		}
		if victim < 0 {
			victim = 0
		}
		c.queue = append(c.queue[:victim], c.queue[victim+1:]...)
		c.overflow++
	}
	c.queue = append(c.queue, queuedFrame{channel: event.Channel, payload: payload})
	c.qmu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) drain() []queuedFrame {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// Overflow reports how many messages this client has dropped to
// overflow, exposed internally for diagnostics (spec.md §4.7).
func (c *Client) Overflow() uint64 {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.overflow
}

func (c *Client) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// subscribe registers the channel subscription, idempotently, refusing
// the user channel for unauthenticated clients.
func (c *Client) subscribe(channel string) error {
	if channel == "user" && c.userID == "" {
		return errUnauthenticatedUserChannel
	}
	if c.isSubscribed(channel) {
		return nil
	}
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
	c.hub.bus.Subscribe(channel, c)
	return nil
}

func (c *Client) unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	c.hub.bus.Unsubscribe(channel, c)
}

var errUnauthenticatedUserChannel = &wsError{"subscribe to user channel requires authentication"}

type wsError struct{ msg string }

func (e *wsError) Error() string { return e.msg }

// readPump pumps client frames into subscribe/unsubscribe calls.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("ws read error", zap.Error(err))
			}
			return
		}

		var frame WSClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.log.Debug("ws invalid client frame", zap.Error(err))
			continue
		}

		channel := frame.Channel
		if frame.Symbol != "" && (channel == "pool" || channel == "orderbook") {
			channel = channel + ":" + frame.Symbol
		}

		switch frame.Action {
		case "subscribe":
			if err := c.subscribe(channel); err != nil {
				c.log.Debug("ws subscribe refused", zap.String("channel", channel), zap.Error(err))
			}
		case "unsubscribe":
			c.unsubscribe(channel)
		default:
			c.log.Debug("ws unknown action", zap.String("action", frame.Action))
		}
	}
}

// writePump drains the bounded outbox into the connection, batching
// whatever is pending into one write the way the teacher's pump does,
// and pings every 54s to keep the 60s read deadline alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.notify:
			frames := c.drain()
			if len(frames) == 0 {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			for i, f := range frames {
				if i > 0 {
					w.Write([]byte{'\n'})
				}
				w.Write(f.payload)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleWebSocket upgrades the connection, resolves the auth token from
// the query string, and starts the read/write pumps (spec.md §6 /ws).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	var userID string
	if token := r.URL.Query().Get("token"); token != "" {
		if uid, ok := s.auth.Resolve(token); ok {
			userID = uid
		}
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		id:            uuid.New().String(),
		userID:        userID,
		subscriptions: make(map[string]bool),
		notify:        make(chan struct{}, 1),
		closed:        make(chan struct{}),
		log:           s.log,
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}
