package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned when using a hub that has stopped running.
var ErrStopped = errors.New("hub stopped")

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name   string
	logger *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for client count and last message (read-only access from outside)
	mu   sync.RWMutex
	last *Message

	// Called when a slow client is dropped
	onDrop func(*Client)
}

// New creates a new Hub
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// OnDrop sets a callback fired when a slow client is disconnected.
// Must be called before Run.
func (h *Hub) OnDrop(fn func(*Client)) {
	h.onDrop = fn
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
// On return every client's send channel is closed, which makes its write
// pump send a close frame and release the connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			last := h.last
			h.mu.Unlock()

			// Replay the current state before any later broadcast
			if last != nil {
				h.deliver(client, *last)
			}
			h.logger.Debug("client connected", "client", client.ID, "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "client", client.ID, "remaining", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			h.last = &message
			h.mu.Unlock()

			for _, client := range h.snapshotClients() {
				h.deliver(client, message)
			}
		}
	}
}

// deliver queues a message for one client, dropping the client when its
// buffer is full. Only called from Run.
func (h *Hub) deliver(client *Client, message Message) {
	select {
	case client.send <- message:
	default:
		// Client's buffer is full - they're too slow
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		h.logger.Warn("dropped slow client", "client", client.ID)
		if h.onDrop != nil {
			h.onDrop(client)
		}
	}
}

func (h *Hub) snapshotClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Broadcast queues a message for every connected client and for replay to
// future clients. It blocks while the queue is full and returns ErrStopped
// once the hub has stopped.
func (h *Hub) Broadcast(msg Message) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrStopped
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v interface{}) error {
	msg, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	return h.Broadcast(msg)
}

// Last returns the most recently broadcast message.
func (h *Hub) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return Message{}, false
	}
	return *h.last, true
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Done is closed when the hub stops.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) add(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrStopped
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
