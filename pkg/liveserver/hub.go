package liveserver

import (
	"context"
	"sync"
)

// Logger is the subset of core.ILogger the server needs. Nil disables logging.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Client is one dashboard connection. Its target is a watch target key such
// as "SPX:dte0"; empty means every target.
type Client struct {
	id   string
	send chan Message

	mu     sync.Mutex
	target string
	closed bool
}

// NewClient creates a client subscribed to target
func NewClient(id, target string) *Client {
	return &Client{
		id:     id,
		target: target,
		send:   make(chan Message, 256),
	}
}

// Target returns the current subscription.
func (c *Client) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Client) setTarget(target string) {
	c.mu.Lock()
	c.target = target
	c.mu.Unlock()
}

// Send queues msg without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// GetSendChan returns the send channel for reading
func (c *Client) GetSendChan() <-chan Message {
	return c.send
}

// Close closes the send channel once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type subscription struct {
	client *Client
	target string
}

// Hub fans messages out to clients by target. All membership changes go
// through the Run loop.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{} // target -> clients, "" for all
	count  int

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	done       chan struct{}

	logger Logger
}

// NewHub creates a new Hub. logger may be nil.
func NewHub(logger Logger) *Hub {
	return &Hub{
		topics:     make(map[string]map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.topics {
				for c := range clients {
					c.Close()
				}
			}
			h.topics = make(map[string]map[*Client]struct{})
			h.count = 0
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.addLocked(c, c.Target())
			total := h.count
			h.mu.Unlock()
			h.info("Client registered", "client_id", c.id, "target", c.Target(), "total_clients", total)

		case c := <-h.unregister:
			h.remove(c)

		case sub := <-h.subscribe:
			h.mu.Lock()
			if h.dropLocked(sub.client) {
				sub.client.setTarget(sub.target)
				h.addLocked(sub.client, sub.target)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			for _, c := range h.recipients(msg.Target) {
				if !c.Send(msg) {
					wsDropped.Inc()
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) addLocked(c *Client, target string) {
	clients, ok := h.topics[target]
	if !ok {
		clients = make(map[*Client]struct{})
		h.topics[target] = clients
	}
	if _, dup := clients[c]; !dup {
		clients[c] = struct{}{}
		h.count++
	}
}

// dropLocked removes c from its topic and reports whether it was registered.
func (h *Hub) dropLocked(c *Client) bool {
	target := c.Target()
	clients, ok := h.topics[target]
	if !ok {
		return false
	}
	if _, ok := clients[c]; !ok {
		return false
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.topics, target)
	}
	h.count--
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	ok := h.dropLocked(c)
	total := h.count
	h.mu.Unlock()
	if ok {
		c.Close()
		h.info("Client unregistered", "client_id", c.id, "total_clients", total)
	}
}

// recipients lists the clients of target plus those watching everything. An
// untargeted message goes to every client.
func (h *Hub) recipients(target string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if target == "" {
		out := make([]*Client, 0, h.count)
		for _, clients := range h.topics {
			for c := range clients {
				out = append(out, c)
			}
		}
		return out
	}
	out := make([]*Client, 0, len(h.topics[target])+len(h.topics[""]))
	for c := range h.topics[target] {
		out = append(out, c)
	}
	for c := range h.topics[""] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) info(msg string, kv ...interface{}) {
	if h.logger != nil {
		h.logger.Info(msg, kv...)
	}
}

// Register registers a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes and closes client. Unknown clients are ignored.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe moves a registered client to target. It returns false once the
// hub has stopped.
func (h *Hub) Subscribe(client *Client, target string) bool {
	select {
	case h.subscribe <- subscription{client: client, target: target}:
		return true
	case <-h.done:
		return false
	}
}

// Broadcast queues msg for delivery, dropping it when the hub is backed up.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("Broadcast channel full, dropping message", "type", msg.Type, "target", msg.Target)
		}
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
