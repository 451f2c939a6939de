package sse

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel 多实例间转发事件的 Redis 频道
const DefaultChannel = "mes:sse:events"

// RedisBridge 通过 Redis pub/sub 把事件转发到所有实例的 Hub
type RedisBridge struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	logger  *zap.Logger
}

// NewRedisBridge 创建转发器
func NewRedisBridge(rdb *redis.Client, hub *Hub, channel string, logger *zap.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{rdb: rdb, hub: hub, channel: channel, logger: logger.Named("sse-bridge")}
}

// Publish 发布到 Redis，由各实例的 Run 投递给本地客户端
func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run 订阅频道直到 ctx 结束
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	// 等待订阅确认，之后发布的消息不会丢失
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("subscribed", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				b.logger.Warn("drop malformed event", zap.Error(err))
				continue
			}
			_ = b.hub.Publish(ctx, ev)
		}
	}
}
