package hub

import (
	"encoding/json"
	"sync"

	"github.com/codewitgabi/skill-barter-sync/pkg/log"
)

// Hub tracks connected WebSocket clients. Clients are keyed by connection
// ID; once authenticated they are additionally indexed by user ID so events
// can be delivered to every active session of a user.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	users      map[string]map[string]*Client // userID -> clientID -> client
	register   chan *Client
	unregister chan *Client
	deliver    chan *userMessage
	stop       chan struct{}
	stopped    chan struct{}
	mu         sync.RWMutex
	config     Config
}

// Config holds WebSocket timing configuration shared by all clients.
type Config struct {
	PingInterval   int64 // seconds
	PongWait       int64 // seconds
	WriteWait      int64 // seconds
	MaxMessageSize int64
}

type userMessage struct {
	UserID  string
	Message []byte
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		users:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan *userMessage, 256),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		config:     cfg,
	}
}

// Run processes registration and delivery until Stop is called.
func (h *Hub) Run() {
	defer close(h.stopped)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for _, client := range h.clients {
				client.closeSend()
			}
			h.clients = make(map[string]*Client)
			h.users = make(map[string]map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				h.removeLocked(client)
				client.closeSend()
			}
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")

		case msg := <-h.deliver:
			h.mu.RLock()
			for _, client := range h.users[msg.UserID] {
				if !client.enqueue(msg.Message) {
					// Slow consumer; drop it rather than stall delivery.
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop closes every client send channel and stops Run.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.stopped
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Bind indexes an authenticated client under its user ID.
func (h *Hub) Bind(client *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.UserID = userID
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[string]*Client)
	}
	h.users[userID][client.ID] = client
}

// SendToUser delivers a message to every active session of a user.
func (h *Hub) SendToUser(userID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case h.deliver <- &userMessage{UserID: userID, Message: data}:
	case <-h.stop:
	}
	return nil
}

// UserSessionCount returns the number of active sessions of a user.
func (h *Hub) UserSessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) removeLocked(client *Client) {
	delete(h.clients, client.ID)
	if client.UserID == "" {
		return
	}
	if sessions, ok := h.users[client.UserID]; ok {
		delete(sessions, client.ID)
		if len(sessions) == 0 {
			delete(h.users, client.UserID)
		}
	}
}
