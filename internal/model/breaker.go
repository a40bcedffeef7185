package model

import (
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBreakerFailures = 5
	// 半开状态下允许的探测请求数
	halfOpenProbes = 1
)

// newBreaker 为单个模型创建熔断器：连续失败达到阈值后打开，
// 打开期间直接返回 gobreaker.ErrOpenState，不再等待超时
func newBreaker[T any](name string, s BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker[T] {
	failures := s.ConsecutiveFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenProbes,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Model circuit breaker state changed",
				zap.String("model", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
