package consumer

import (
	"context"
	"fmt"
	"time"

	rediscommon "github.com/Sarang2401/Precursor-Main/internal/common/redis"
	"github.com/Sarang2401/Precursor-Main/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamConfig Streams 消费者配置
type StreamConfig struct {
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
	Block         time.Duration
}

// StreamConsumer 从 Redis Streams（消费者组）读取上游网关转发的读数
// 消息格式与 PublishJSONToStream 一致：data 字段为读数 JSON
type StreamConsumer struct {
	config      StreamConfig
	redisClient *redis.Client
	processor   ReadingProcessor
	logger      *zap.Logger
	metrics     *Metrics
	now         func() time.Time
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(cfg StreamConfig, redisClient *redis.Client, processor ReadingProcessor, logger *zap.Logger) *StreamConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		processor:   processor,
		logger:      logger,
		metrics:     newMetrics("stream"),
		now:         time.Now,
	}
}

// Start 启动消费循环，阻塞直到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.config.Stream, c.config.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.Stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", c.config.ConsumerGroup),
		zap.String("consumer_name", c.config.ConsumerName),
		zap.String("stream", c.config.Stream),
	)

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go reportMetrics(metricsCtx, "stream", c.metrics, 60*time.Second, c.logger)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			// 指数退避
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// Metrics 指标快照
func (c *StreamConsumer) Metrics() Metrics {
	return c.metrics.GetSnapshot()
}

// consumeOnce 读取一批消息并逐条处理，返回本批消息数
// 无法解析的消息同样 ACK，避免毒消息反复投递
func (c *StreamConsumer) consumeOnce(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Stream,
		c.config.ConsumerGroup,
		c.config.ConsumerName,
		c.config.BatchSize,
		c.config.Block,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		c.metrics.incrementProcessed()
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		}

		if err := rediscommon.AckMessage(ctx, c.redisClient, c.config.Stream, c.config.ConsumerGroup, msg.ID); err != nil {
			c.metrics.incrementFailed(errorAck)
			c.logger.Warn("Failed to ack message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return len(messages), nil
}

// processMessage 处理单条消息
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	start := time.Now()

	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		c.metrics.incrementFailed(errorParse)
		return fmt.Errorf("missing or invalid data field in message")
	}

	reading, err := models.DecodeReading([]byte(dataStr), "", c.now())
	if err != nil {
		c.metrics.incrementFailed(errorParse)
		return fmt.Errorf("failed to decode message data: %w", err)
	}

	summary, err := c.processor.Process(ctx, reading)
	if err != nil {
		c.metrics.incrementFailed(errorProcess)
		return fmt.Errorf("failed to process reading: %w", err)
	}

	duration := time.Since(start)
	c.metrics.incrementSucceeded(duration, summary.AlertLogged)

	c.logger.Debug("Processed stream reading",
		zap.String("stream_id", msg.ID),
		zap.String("device_id", reading.DeviceID),
		zap.String("risk", string(summary.RiskTier)),
		zap.Bool("alert_logged", summary.AlertLogged),
		zap.Duration("processing_time", duration),
	)
	return nil
}
