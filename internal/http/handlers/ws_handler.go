package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/wedogs/backend/internal/events"
	"go.uber.org/zap"
)

// wsFilter narrows the events a connection receives. Empty fields match
// everything.
type wsFilter struct {
	campaignID string
	donorID    string
}

func (f wsFilter) matches(event events.Event) bool {
	if f.campaignID != "" && event.CampaignID() != f.campaignID {
		return false
	}
	if f.donorID != "" {
		id, _ := event.Payload["donor_id"].(string)
		if id != f.donorID {
			return false
		}
	}
	return true
}

// WSHub pushes donation, balance and progression events to live clients.
type WSHub struct {
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[*websocket.Conn]wsFilter
}

func NewWSHub(subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		subscriber:  subscriber,
		log:         log,
		connections: make(map[*websocket.Conn]wsFilter),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamDonations, h.broadcast)
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, f := range h.connections {
		if !f.matches(event) {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("ws write failed", zap.Error(err))
		}
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	f := wsFilter{}
	for key, dst := range map[string]*string{"campaign_id": &f.campaignID, "donor_id": &f.donorID} {
		v := conn.Query(key)
		if v == "" {
			continue
		}
		if _, err := uuid.Parse(v); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid `+key+`"}`))
			conn.Close()
			return
		}
		*dst = v
	}

	h.mu.Lock()
	h.connections[conn] = f
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.connections, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
