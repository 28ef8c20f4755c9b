package sse

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ipd/internal/events"
)

// Event represents a Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client represents a connected SSE client
//
// PartNumber 非空时只接收该件号的事件。
type Client struct {
	ID         string
	UserID     string
	PartNumber string
	Events     chan Event
}

// Hub manages all SSE client connections
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new SSE Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("sse client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)))
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("sse client unregistered",
			zap.String("client_id", clientID),
			zap.Int("total", len(h.clients)))
	}
}

// Len 当前连接数
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to all connected clients; slow clients miss events
func (h *Hub) Broadcast(event Event, partNumber string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.PartNumber != "" && client.PartNumber != partNumber {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("sse client buffer full, skipping event", zap.String("client_id", client.ID))
		}
	}
}

// Notify 把风险事件推送给订阅者
func (h *Hub) Notify(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal sse event failed", zap.Error(err))
		return
	}
	h.Broadcast(Event{EventType: string(ev.Type), Data: string(data)}, ev.PartNumber)
}
