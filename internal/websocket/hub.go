package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/coinfolio/backend/internal/logger"
)

// Message types pushed to clients
const (
	TypePricesRefreshed = "prices_refreshed"
	TypeAlertTriggered  = "alert_triggered"
)

// Message is one event addressed to every connection of a user.
type Message struct {
	Type   string    `json:"type"`
	UserID uuid.UUID `json:"-"` // Not sent to client, used for routing
	Data   any       `json:"data"`
}

// ConnectionGauge tracks the number of open connections
type ConnectionGauge interface {
	IncWSConnections()
	DecWSConnections()
}

type nopGauge struct{}

func (nopGauge) IncWSConnections() {}
func (nopGauge) DecWSConnections() {}

// Hub maintains the set of active clients and routes messages to them.
type Hub struct {
	// Registered clients by user ID
	clients map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}

	gauge ConnectionGauge
	log   *logger.Logger
	mu    sync.RWMutex
}

// NewHub creates a new Hub instance. gauge may be nil.
func NewHub(gauge ConnectionGauge) *Hub {
	if gauge == nil {
		gauge = nopGauge{}
	}
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		gauge:      gauge,
		log:        logger.Default().WithComponent("websocket"),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for userID, clients := range h.clients {
				for client := range clients {
					h.drop(userID, client)
				}
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			h.gauge.IncWSConnections()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.userID][client]; ok {
				h.drop(client.userID, client)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			payload, err := json.Marshal(message)
			if err != nil {
				h.log.Error(ctx, "failed to encode websocket message", map[string]any{"type": message.Type}, err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients[message.UserID] {
				select {
				case client.send <- payload:
				default:
					// Client's buffer is full, close the connection
					h.drop(message.UserID, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client. Callers hold h.mu.
func (h *Hub) drop(userID uuid.UUID, client *Client) {
	clients := h.clients[userID]
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, userID)
	}
	h.gauge.DecWSConnections()
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client if it is still registered.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Send queues msg for delivery. Messages for users without connections are
// discarded; when the queue is full the message is dropped and false returned.
func (h *Hub) Send(msg *Message) bool {
	if h.ClientCount(msg.UserID) == 0 {
		return true
	}
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.log.Warn(context.Background(), "websocket queue full, dropping message", map[string]any{"type": msg.Type})
		return false
	}
}

// ClientCount returns the number of connected clients for a user.
func (h *Hub) ClientCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
