package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"friends-go/internal/models"
)

// Hub maintains the set of active clients, one per user, and routes
// notification events to the recipient's connection.
type Hub struct {
	// 以用户 ID 为键，每个用户只保留最新的一个连接
	clients map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client
	direct     chan models.NotificationEvent
	done       chan struct{}

	online atomic.Int64
	logger *zap.Logger
}

// NewHub creates a hub whose delivery queue holds queueSize events.
func NewHub(queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan models.NotificationEvent, queueSize),
		done:       make(chan struct{}),
		logger:     logger.Named("ws-hub"),
	}
}

// DeliverNotification queues event for its recipient without blocking.
// It returns false when the hub queue is full and the event was dropped.
// A queued event for a user who is not connected is discarded by Run.
func (h *Hub) DeliverNotification(event models.NotificationEvent) bool {
	select {
	case h.direct <- event:
		return true
	default:
		h.logger.Warn("hub queue full, dropping notification", zap.Stringer("recipient", event.RecipientID))
		return false
	}
}

// Online is the number of connected users.
func (h *Hub) Online() int64 {
	return h.online.Load()
}

// Run processes registrations and deliveries until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			if existing, ok := h.clients[client.UserID]; ok {
				h.logger.Info("replacing existing connection", zap.Stringer("user", client.UserID))
				close(existing.send)
			} else {
				h.online.Add(1)
			}
			h.clients[client.UserID] = client

		case client := <-h.unregister:
			if stored, ok := h.clients[client.UserID]; ok && stored == client {
				delete(h.clients, client.UserID)
				close(client.send)
				h.online.Add(-1)
			}

		case event := <-h.direct:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event models.NotificationEvent) {
	client, ok := h.clients[event.RecipientID]
	if !ok {
		h.logger.Debug("recipient not connected, notification skipped",
			zap.String("type", string(event.Type)),
			zap.Stringer("recipient", event.RecipientID))
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal notification", zap.Error(err))
		return
	}
	select {
	case client.send <- payload:
	default:
		// 客户端太慢，断开它
		h.logger.Warn("client send buffer full, disconnecting", zap.Stringer("user", event.RecipientID))
		close(client.send)
		delete(h.clients, event.RecipientID)
		h.online.Add(-1)
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.online.Store(0)
	h.logger.Info("websocket hub stopped")
}
