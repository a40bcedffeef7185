package alerting

import (
	"context"
	"fmt"

	rediscommon "github.com/Sarang2401/Precursor-Main/internal/common/redis"
	"github.com/Sarang2401/Precursor-Main/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 报警下游通知（尽力而为，失败不影响处理结果）
type Publisher interface {
	Publish(ctx context.Context, alert models.Alert) error
}

// RedisPublisher 把报警写入 Redis Stream，供下游卡片/通知服务消费
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisPublisher 创建发布器
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish 实现 Publisher
func (p *RedisPublisher) Publish(ctx context.Context, alert models.Alert) error {
	streamID, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, alert, p.maxLen)
	if err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", alert.AlertID, err)
	}

	p.logger.Debug("Alert published to stream",
		zap.String("stream", p.stream),
		zap.String("stream_id", streamID),
		zap.String("alert_id", alert.AlertID),
		zap.String("device_id", alert.DeviceID),
		zap.String("risk", string(alert.RiskTier)),
	)
	return nil
}

// NopPublisher 不发布（ALERT_PUBLISH_ENABLED=false）
type NopPublisher struct{}

// Publish 实现 Publisher
func (NopPublisher) Publish(context.Context, models.Alert) error { return nil }
