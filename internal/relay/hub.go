// Package relay implements a chat relay speaking the same wire protocol as
// the client sessions, over WebSocket and line-framed TCP on a single port.
package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNameTaken is returned when registering a name that is already connected.
	ErrNameTaken = errors.New("name already in use")
	// ErrUnknownDestination is returned when routing to a name nobody holds.
	ErrUnknownDestination = errors.New("unknown destination")
)

// Client is an identified connection. Addr is the remote address, used in
// logs.
type Client struct {
	Name     string
	Addr     string
	Outgoing chan []byte
}

// Hub tracks identified clients by name and routes frames between them.
// Both WebSocket and TCP clients share a single Hub.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.Name]; ok {
		return fmt.Errorf("%w: %s", ErrNameTaken, client.Name)
	}
	h.clients[client.Name] = client
	return nil
}

// Unregister removes a client from the hub. No frame is queued to the
// client once Unregister returns.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.Name] == client {
		delete(h.clients, client.Name)
	}
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Names returns the names of all connected clients.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.clients))
	for name := range h.clients {
		names = append(names, name)
	}
	return names
}

// Route queues data for delivery. An empty destination reaches every client,
// the sender included; otherwise the destination and the sender each get one
// copy. It returns the number of clients the frame was queued to.
func (h *Hub) Route(data []byte, sender *Client, destination string) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if destination == "" {
		n := 0
		for _, client := range h.clients {
			if h.enqueue(client, data) {
				n++
			}
		}
		return n, nil
	}

	target, ok := h.clients[destination]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}
	n := 0
	if h.enqueue(target, data) {
		n++
	}
	if sender != nil && sender != target && h.enqueue(sender, data) {
		n++
	}
	return n, nil
}

// enqueue must be called with mu held.
func (h *Hub) enqueue(client *Client, data []byte) bool {
	select {
	case client.Outgoing <- data:
		return true
	default:
		h.logger.Warn().Str("client", client.Name).Str("remote", client.Addr).Msg("[relay] client channel full, skipping")
		return false
	}
}
