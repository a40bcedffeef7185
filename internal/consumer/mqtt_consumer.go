package consumer

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqttcommon "github.com/Sarang2401/Precursor-Main/internal/common/mqtt"
	"github.com/Sarang2401/Precursor-Main/internal/models"

	"go.uber.org/zap"
)

// ReadingProcessor 读数处理入口
type ReadingProcessor interface {
	Process(ctx context.Context, reading models.Reading) (models.ResultSummary, error)
}

// Subscriber MQTT 订阅能力（mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 订阅设备上报主题并逐条处理
// 主题格式: precursor/{device_id}/report；payload 与 POST /report 的 JSON 相同
type MQTTConsumer struct {
	subscriber Subscriber
	topic      string
	qos        byte
	processor  ReadingProcessor
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(subscriber Subscriber, topic string, qos byte, processor ReadingProcessor, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber: subscriber,
		topic:      topic,
		qos:        qos,
		processor:  processor,
		logger:     logger,
		metrics:    newMetrics("mqtt"),
		now:        time.Now,
	}
}

// Start 订阅主题并阻塞直到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.topic),
	)

	go reportMetrics(ctx, "mqtt", c.metrics, 60*time.Second, c.logger)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// Metrics 指标快照
func (c *MQTTConsumer) Metrics() Metrics {
	return c.metrics.GetSnapshot()
}

// handleMessage 处理单条 MQTT 消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	start := time.Now()
	c.metrics.incrementProcessed()

	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	deviceID, err := deviceFromTopic(topic)
	if err != nil {
		c.metrics.incrementFailed(errorTopic)
		return err
	}

	reading, err := models.DecodeReading(payload, deviceID, c.now())
	if err != nil {
		c.metrics.incrementFailed(errorParse)
		return fmt.Errorf("invalid reading on %s: %w", topic, err)
	}

	summary, err := c.processor.Process(context.Background(), reading)
	if err != nil {
		c.metrics.incrementFailed(errorProcess)
		return fmt.Errorf("failed to process reading from %s: %w", reading.DeviceID, err)
	}

	duration := time.Since(start)
	c.metrics.incrementSucceeded(duration, summary.AlertLogged)

	return nil
}

// deviceFromTopic 主题格式: {prefix}/{device_id}/{suffix}
func deviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}
