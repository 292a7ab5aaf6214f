package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Manager manages all WebSocket connections
type Manager struct {
	// auctionID -> set of clients watching that auction
	subscribers map[uuid.UUID]map[*Client]struct{}
	mu          sync.RWMutex

	// Channels for managing connections
	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	// done is closed when Run returns
	done chan struct{}

	log *slog.Logger
}

// Client represents a WebSocket client connection
type Client struct {
	ID        string
	AuctionID uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
}

// BroadcastMessage is a payload for every client watching an auction
type BroadcastMessage struct {
	AuctionID uuid.UUID
	Payload   []byte
}

// NewManager creates a new WebSocket manager
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		subscribers: make(map[uuid.UUID]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *BroadcastMessage, 256), // Buffered for high throughput
		done:        make(chan struct{}),
		log:         log,
	}
}

// Run starts the manager's main loop until ctx is done.
// This should run in a goroutine
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return

		case client := <-m.register:
			m.registerClient(client)

		case client := <-m.unregister:
			m.unregisterClient(client)

		case message := <-m.broadcast:
			m.broadcastToAuction(message.AuctionID, message.Payload)
		}
	}
}

// RegisterClient adds a client to the manager
func (m *Manager) RegisterClient(client *Client) {
	select {
	case m.register <- client:
	case <-m.done:
	}
}

// UnregisterClient removes a client from the manager
func (m *Manager) UnregisterClient(client *Client) {
	select {
	case m.unregister <- client:
	case <-m.done:
	}
}

// Broadcast sends a message to all clients watching an auction
func (m *Manager) Broadcast(auctionID uuid.UUID, payload []byte) {
	select {
	case m.broadcast <- &BroadcastMessage{AuctionID: auctionID, Payload: payload}:
	case <-m.done:
	}
}

func (m *Manager) registerClient(client *Client) {
	m.mu.Lock()
	set, ok := m.subscribers[client.AuctionID]
	if !ok {
		set = make(map[*Client]struct{})
		m.subscribers[client.AuctionID] = set
	}
	set[client] = struct{}{}
	m.mu.Unlock()

	m.log.Debug("Client subscribed", "client_id", client.ID, "auction_id", client.AuctionID)
}

// unregisterClient closes Send once; the write pump then closes the connection
func (m *Manager) unregisterClient(client *Client) {
	m.mu.Lock()
	set, ok := m.subscribers[client.AuctionID]
	if ok {
		if _, ok = set[client]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(m.subscribers, client.AuctionID)
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	close(client.Send)
	m.log.Debug("Client unsubscribed", "client_id", client.ID, "auction_id", client.AuctionID)
}

func (m *Manager) broadcastToAuction(auctionID uuid.UUID, payload []byte) {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.subscribers[auctionID]))
	for c := range m.subscribers[auctionID] {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	count := 0
	for _, client := range clients {
		select {
		case client.Send <- payload:
			count++
		default:
			// Send buffer full, disconnect the client
			m.unregisterClient(client)
		}
	}
	if len(clients) > 0 {
		m.log.Debug("Broadcasted event", "auction_id", auctionID, "clients", count)
	}
}

func (m *Manager) closeAll() {
	m.mu.RLock()
	var clients []*Client
	for _, set := range m.subscribers {
		for c := range set {
			clients = append(clients, c)
		}
	}
	m.mu.RUnlock()
	for _, c := range clients {
		m.unregisterClient(c)
	}
}

// GetSubscriberCount returns the number of clients watching an auction
func (m *Manager) GetSubscriberCount(auctionID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[auctionID])
}

// writePump pumps messages from the Send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are handled.
// Watchers only listen; anything they send is discarded.
func (c *Client) readPump(m *Manager, log *slog.Logger) {
	defer m.UnregisterClient(c)

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket error", "client_id", c.ID, "err", err)
			}
			return
		}
	}
}
