package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SSEHandler 视图刷新与通知推送
type SSEHandler struct {
	hub       *sse.Hub
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(hub *sse.Hub, logger *zap.Logger) *SSEHandler {
	return &SSEHandler{hub: hub, heartbeat: 30 * time.Second, logger: logger}
}

// Stream handles the SSE endpoint
// GET /api/v1/mes/sse/events?token=xxx&views=work-orders,work-center:wc-1
func (h *SSEHandler) Stream(c *gin.Context) {
	userID := GetUserID(c)
	clientID := fmt.Sprintf("%s_%d", userID, time.Now().UnixNano())

	views := map[string]bool{}
	for _, v := range strings.Split(c.Query("views"), ",") {
		if v = strings.TrimSpace(v); v != "" {
			views[v] = true
		}
	}

	client := &sse.Client{
		ID:     clientID,
		UserID: userID,
		Views:  views,
		Events: make(chan sse.Event, 64),
	}
	h.hub.Register(client)
	defer h.hub.Unregister(clientID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	if frame, err := sse.Encode(sse.Event{Type: sse.EventConnected, Data: gin.H{"client_id": clientID}}); err == nil {
		c.Writer.Write(frame)
		c.Writer.Flush()
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			frame, err := sse.Encode(event)
			if err != nil {
				h.logger.Warn("encode sse event failed", zap.String("client_id", clientID), zap.Error(err))
				continue
			}
			c.Writer.Write(frame)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
