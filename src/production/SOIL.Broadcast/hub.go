package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"

	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
)

// Message types sent over the viewer socket.
const (
	MessageTypeData = "data"
	MessageTypeInit = "init"
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Message is one frame on the viewer socket.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of connected viewers and pushes derived display
// events to all of them. Viewers are keyed by connection identity, so
// removing one handle never removes another that happens to carry equal
// state. Delivery is fire-and-forget per viewer: a full or dead send
// queue drops that viewer without blocking the others.
type Hub struct {
	clients    map[uuid.UUID]*Client
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     log.WithComponent("broadcast-hub"),
	}
}

// Run owns the viewer registry until the context is canceled. Registry
// mutation and broadcast iteration happen on this goroutine, so
// connects, disconnects and broadcasts never observe a half-removed
// entry. On return the done channel is closed, releasing any caller
// still blocked in Register, Unregister or BroadcastReading.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Logger.Info().Int("viewers", total).Msg("viewer connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Logger.Info().Int("viewers", total).Msg("viewer disconnected")

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver fans a message out to every connected viewer. Viewers whose
// send queue is full are dropped; one stalled socket must not hold up
// the rest.
func (h *Hub) deliver(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		select {
		case client.send <- message:
		default:
			client.close()
			delete(h.clients, id)
			h.logger.Logger.Warn().Str("viewer_id", id.String()).Msg("viewer send queue full, dropping viewer")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		client.close()
		delete(h.clients, id)
	}
	h.logger.Info("closed all viewers during shutdown")
}

// BroadcastReading pushes a derived reading view to all viewers. The
// producer is a single sequential pipeline, so waiting for the hub to
// take the message is fine; loss is scoped to individual slow viewers
// in deliver, never to the whole audience.
func (h *Hub) BroadcastReading(view soilmodels.ReadingView) {
	message := Message{Type: MessageTypeData, Data: view}
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Register adds a viewer to the registry. After the hub has stopped the
// viewer is closed instead, so its pumps wind down rather than strand.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a viewer from the registry by identity. A no-op
// after the hub has stopped; closeAll has already released everyone.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
