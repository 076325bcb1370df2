// Package streaming fans workload console output out to WebSocket clients.
package streaming

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hostclub/serverpool/internal/common/logger"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

// Client represents a WebSocket client connection
type Client struct {
	ID        string
	conn      *websocket.Conn
	workloads map[string]bool // Workload names this client is subscribed to
	send      chan []byte
	hub       *Hub
	mu        sync.RWMutex
	logger    *logger.Logger
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:        id,
		conn:      conn,
		workloads: make(map[string]bool),
		send:      make(chan []byte, 256),
		hub:       hub,
		logger:    log.WithFields(zap.String("client_id", id)),
	}
}

// Hub manages all WebSocket clients. It is wired into the supervisor as its
// console sink, so every drained console line reaches subscribed clients.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Clients by workload name for message routing
	workloadClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan v1.ConsoleLine

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:         make(map[*Client]bool),
		workloadClients: make(map[string]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan v1.ConsoleLine, 256),
		logger:          log.WithFields(zap.String("component", "console-hub")),
	}
}

// ConsoleLine queues a console line for broadcast. Implements the
// supervisor's console sink; drops lines when the hub is saturated rather
// than stalling the drain goroutine.
func (h *Hub) ConsoleLine(line v1.ConsoleLine) {
	select {
	case h.broadcast <- line:
	default:
	}
}

// Run starts the hub processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Console hub started")
	defer h.logger.Info("Console hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.workloadClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.dropSubscriptions(client)
			}
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))

		case line := <-h.broadcast:
			// Snapshot the subscriber set under the lock; Subscribe and
			// Unsubscribe mutate the inner map concurrently
			h.mu.RLock()
			recipients := make([]*Client, 0, len(h.workloadClients[line.Name]))
			for client := range h.workloadClients[line.Name] {
				recipients = append(recipients, client)
			}
			h.mu.RUnlock()

			if len(recipients) == 0 {
				continue
			}

			data, err := json.Marshal(line)
			if err != nil {
				h.logger.Error("Failed to marshal console line", zap.Error(err))
				continue
			}

			for _, client := range recipients {
				select {
				case client.send <- data:
				default:
					// Client cannot keep up, drop it
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
						h.dropSubscriptions(client)
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

// dropSubscriptions removes the client from every workload's subscriber
// set. Callers hold h.mu.
func (h *Hub) dropSubscriptions(client *Client) {
	for name := range client.workloads {
		if clients, ok := h.workloadClients[name]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.workloadClients, name)
			}
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SubscribeClient subscribes a client to a workload's console
func (h *Hub) SubscribeClient(client *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.workloadClients[name]; !ok {
		h.workloadClients[name] = make(map[*Client]bool)
	}
	h.workloadClients[name][client] = true
}

// UnsubscribeClient unsubscribes a client from a workload's console
func (h *Hub) UnsubscribeClient(client *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.workloadClients[name]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.workloadClients, name)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients watching a workload
func (h *Hub) SubscriberCount(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.workloadClients[name]; ok {
		return len(clients)
	}
	return 0
}
