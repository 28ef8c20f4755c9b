package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/sse"
)

// EventHandler 风险事件实时推送
type EventHandler struct {
	hub       *sse.Hub
	heartbeat time.Duration
}

// NewEventHandler 创建事件推送处理器
func NewEventHandler(hub *sse.Hub) *EventHandler {
	return &EventHandler{hub: hub, heartbeat: 30 * time.Second}
}

// Stream 订阅修订变更、构型漂移和决策事件
// GET /api/v1/events/stream?part_number=xxx
func (h *EventHandler) Stream(c *gin.Context) {
	userID := GetUserID(c)
	clientID := uuid.New().String()

	client := &sse.Client{
		ID:         clientID,
		UserID:     userID,
		PartNumber: entity.NormalizePartNumber(c.Query("part_number")),
		Events:     make(chan sse.Event, 64),
	}
	h.hub.Register(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteString("event: connected\ndata: {\"client_id\":\"" + clientID + "\"}\n\n")
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			h.hub.Unregister(clientID)
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			c.Writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event.EventType, event.Data))
			c.Writer.Flush()
		case <-heartbeat.C:
			c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
