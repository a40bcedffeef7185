package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/metrics"

	"go.uber.org/zap"
)

// 失败类型
const (
	errorTopic   = "bad_topic"
	errorParse   = "parse"
	errorProcess = "process"
	errorAck     = "ack"
)

// Metrics 单个消费者的本地计数（用于周期性 zap 报告）
// 每次记录同时写入 Prometheus，调用方只需记录一次
type Metrics struct {
	mu     sync.RWMutex
	source string

	MessagesProcessed int64 // 收到的消息总数
	MessagesSucceeded int64 // 成功处理
	MessagesFailed    int64 // 处理失败
	AlertsLogged      int64 // 产生报警的读数

	ErrorsParse   int64 // 解析错误
	ErrorsProcess int64 // 处理器拒绝
	ErrorsAck     int64 // XACK 失败

	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time
}

func newMetrics(source string) *Metrics {
	return &Metrics{source: source, StartTime: time.Now()}
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		AlertsLogged:        m.AlertsLogged,
		ErrorsParse:         m.ErrorsParse,
		ErrorsProcess:       m.ErrorsProcess,
		ErrorsAck:           m.ErrorsAck,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

func (m *Metrics) incrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

func (m *Metrics) incrementSucceeded(duration time.Duration, alertLogged bool) {
	metrics.ObserveReading(m.source, duration)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	if alertLogged {
		m.AlertsLogged++
	}
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

func (m *Metrics) incrementFailed(errorType string) {
	if errorType != errorAck {
		metrics.IncReadingRejected(errorType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch errorType {
	case errorTopic, errorParse:
		m.MessagesFailed++
		m.ErrorsParse++
	case errorProcess:
		m.MessagesFailed++
		m.ErrorsProcess++
	case errorAck:
		m.ErrorsAck++
	}
}

// reportMetrics 定期输出指标
func reportMetrics(ctx context.Context, name string, m *Metrics, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := m.GetSnapshot()

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}

			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			logger.Info("Metrics report",
				zap.String("consumer", name),
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("alerts_logged", snapshot.AlertsLogged),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_process", snapshot.ErrorsProcess),
				zap.Int64("errors_ack", snapshot.ErrorsAck),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
