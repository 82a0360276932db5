// Package realtime pushes chat updates to connected browsers over websockets.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/starryvlog/backend/internal/chat"
	"github.com/starryvlog/backend/internal/metrics"
)

// Message types sent over the socket.
const (
	MessageTypeMessages = "messages"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// ErrHubStopped is returned when attaching to a hub that is no longer running.
var ErrHubStopped = errors.New("realtime hub stopped")

// Message is one websocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks connected clients per user and fans out broadcasts.
type Hub struct {
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	stopOnce   sync.Once

	logger *slog.Logger
}

// NewHub creates a hub. Run must be called for it to do anything.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		byUser:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		// Lifecycle events first so a broadcast never races a registration.
		select {
		case client := <-h.register:
			h.add(client)
			continue
		case client := <-h.unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// Attach wraps an upgraded connection, registers it for userID and starts its
// pumps. greet, when set, runs on the hub loop once the client is registered
// and its messages are queued ahead of any later broadcast.
func (h *Hub) Attach(conn *websocket.Conn, userID string, greet func() []Message) (*Client, error) {
	client := newClient(h, conn, userID)
	client.greet = greet

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return nil, ErrHubStopped
	}

	client.start()
	return client, nil
}

// Broadcast queues a message for every connected client. It never blocks; the
// message is dropped when the queue is full.
func (h *Hub) Broadcast(message Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("realtime broadcast queue full, dropping message", "type", message.Type)
	}
}

// BroadcastSnapshot pushes a chat snapshot to every client.
func (h *Hub) BroadcastSnapshot(snapshot chat.Snapshot) {
	h.Broadcast(Message{Type: MessageTypeMessages, Data: snapshot.Messages})
}

// DisconnectUser closes every socket belonging to userID. It is safe to call
// whether or not Run is active.
func (h *Hub) DisconnectUser(userID string) {
	h.removeUser(userID)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// reply queues a message for a single client if it is still registered.
func (h *Hub) reply(client *Client, message Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- message:
	default:
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	if h.byUser[client.userID] == nil {
		h.byUser[client.userID] = make(map[*Client]struct{})
	}
	h.byUser[client.userID][client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeClients.Set(float64(total))
	h.logger.Info("realtime client connected", "userId", client.userID, "totalClients", total)

	if client.greet != nil {
		for _, message := range client.greet() {
			h.reply(client, message)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	removed := h.detach(client)
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		metrics.RealtimeClients.Set(float64(total))
		h.logger.Info("realtime client disconnected", "userId", client.userID, "totalClients", total)
	}
}

func (h *Hub) removeUser(userID string) {
	h.mu.Lock()
	count := 0
	for client := range h.byUser[userID] {
		if h.detach(client) {
			count++
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	if count > 0 {
		metrics.RealtimeClients.Set(float64(total))
		h.logger.Info("realtime clients disconnected after sign-out", "userId", userID, "closed", count, "totalClients", total)
	}
}

// detach must be called with h.mu held.
func (h *Hub) detach(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	if users := h.byUser[client.userID]; users != nil {
		delete(users, client)
		if len(users) == 0 {
			delete(h.byUser, client.userID)
		}
	}
	close(client.send)
	return true
}

func (h *Hub) fanOut(message Message) {
	h.mu.Lock()
	var slow []*Client
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.detach(client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if len(slow) > 0 {
		metrics.RealtimeClients.Set(float64(total))
		h.logger.Warn("dropped slow realtime clients", "count", len(slow))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		h.detach(client)
	}
	h.mu.Unlock()
	metrics.RealtimeClients.Set(0)
}
