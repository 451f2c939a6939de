package sse

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// 事件类型
const (
	EventViewsStale     = "views_stale"
	EventOperationReady = "operation_ready"
	EventConnected      = "connected"
)

// Event 推送给客户端的事件。UserID 非空时只投递给该用户。
type Event struct {
	Type   string      `json:"type"`
	Views  []string    `json:"views,omitempty"`
	UserID string      `json:"user_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// Encode 编码为 SSE 帧
func Encode(ev Event) ([]byte, error) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode sse event: %w", err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload)), nil
}

// Client 一个 SSE 连接
type Client struct {
	ID     string
	UserID string
	Views  map[string]bool // 为空时接收全部视图事件
	Events chan Event
}

func (c *Client) wants(ev Event) bool {
	if ev.UserID != "" {
		return ev.UserID == c.UserID
	}
	if len(c.Views) == 0 || len(ev.Views) == 0 {
		return true
	}
	for _, v := range ev.Views {
		if c.Views[v] {
			return true
		}
	}
	return false
}

// Hub 管理本进程内的 SSE 连接
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.Named("sse"),
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)))
}

// Unregister 注销客户端并关闭其事件通道
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish 投递到本进程内匹配的客户端，缓冲区满的客户端跳过该事件
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.wants(ev) {
			continue
		}
		select {
		case client.Events <- ev:
		default:
			h.logger.Warn("client buffer full, dropping event",
				zap.String("client_id", client.ID),
				zap.String("event", ev.Type))
		}
	}
	return nil
}
