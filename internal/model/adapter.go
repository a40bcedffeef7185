package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/features"
	"github.com/Sarang2401/Precursor-Main/internal/metrics"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Label 离群模型输出标签
type Label string

const (
	LabelNormal  Label = "normal"
	LabelOutlier Label = "outlier"
)

var (
	// ErrModelUnavailable 模型服务不可用（启动检查失败或熔断打开）
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrMalformedOutput 模型返回的形状或内容不合法
	ErrMalformedOutput = errors.New("malformed model output")
)

// OutlierModel 离群模型预测契约（输入 6 维统计特征）
// score 为连续决策值，越负越异常
type OutlierModel interface {
	Predict(ctx context.Context, vector []float64) (Label, float64, error)
}

// ReconstructionModel 序列重构模型契约，输出形状必须与输入一致
type ReconstructionModel interface {
	Reconstruct(ctx context.Context, sequence [][]float64) ([][]float64, error)
}

// OutlierResult 离群路径输出；Err 非空时 Label/Score 为安全默认值
type OutlierResult struct {
	Label Label
	Score float64
	Err   error
}

// IsOutlier 是否被判为离群
func (r OutlierResult) IsOutlier() bool {
	return r.Label == LabelOutlier
}

// ReconstructionResult 重构路径输出；Err 非空时 Error 为 0
type ReconstructionResult struct {
	Error float64
	Err   error
}

// BreakerSettings 熔断配置
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// Adapter 统一两个模型的调用：超时、熔断、失败时返回安全默认值
// 任一模型故障都不会阻断另一条路径或规则引擎
type Adapter struct {
	outlier OutlierModel
	recon   ReconstructionModel
	timeout time.Duration
	logger  *zap.Logger

	outlierBreaker *gobreaker.CircuitBreaker[outlierPrediction]
	reconBreaker   *gobreaker.CircuitBreaker[float64]
}

type outlierPrediction struct {
	label Label
	score float64
}

// NewAdapter 创建模型适配器；timeout <= 0 表示不额外设置超时
func NewAdapter(outlier OutlierModel, recon ReconstructionModel, timeout time.Duration, breaker BreakerSettings, logger *zap.Logger) *Adapter {
	return &Adapter{
		outlier:        outlier,
		recon:          recon,
		timeout:        timeout,
		logger:         logger,
		outlierBreaker: newBreaker[outlierPrediction]("outlier", breaker, logger),
		reconBreaker:   newBreaker[float64]("reconstruction", breaker, logger),
	}
}

// Classify 调用离群模型；失败或超时时返回 (normal, 0.0) 并在 Err 中说明原因
func (a *Adapter) Classify(ctx context.Context, vector features.StatFeatureVector) OutlierResult {
	start := time.Now()
	pred, err := a.outlierBreaker.Execute(func() (outlierPrediction, error) {
		if a.outlier == nil {
			return outlierPrediction{}, ErrModelUnavailable
		}
		callCtx, cancel := a.withTimeout(ctx)
		defer cancel()

		return callWithDeadline(callCtx, func(callCtx context.Context) (outlierPrediction, error) {
			label, score, err := a.outlier.Predict(callCtx, vector.Slice())
			if err != nil {
				return outlierPrediction{}, err
			}
			if label != LabelNormal && label != LabelOutlier {
				return outlierPrediction{}, fmt.Errorf("%w: unknown label %q", ErrMalformedOutput, label)
			}
			if math.IsNaN(score) || math.IsInf(score, 0) {
				return outlierPrediction{}, fmt.Errorf("%w: non-finite score", ErrMalformedOutput)
			}
			return outlierPrediction{label: label, score: score}, nil
		})
	})
	metrics.ObserveModelCall("outlier", time.Since(start), err)

	if err != nil {
		a.logger.Warn("Outlier model failed, using safe default",
			zap.Error(err),
		)
		return OutlierResult{Label: LabelNormal, Score: 0.0, Err: err}
	}

	return OutlierResult{Label: pred.label, Score: pred.score}
}

// Reconstruct 调用重构模型并计算 MSE；失败或超时时返回 0.0 并在 Err 中说明原因
// 形状不合法的输出同样计入熔断失败
func (a *Adapter) Reconstruct(ctx context.Context, window features.SequenceWindow) ReconstructionResult {
	start := time.Now()
	mse, err := a.reconBreaker.Execute(func() (float64, error) {
		if a.recon == nil {
			return 0, ErrModelUnavailable
		}
		callCtx, cancel := a.withTimeout(ctx)
		defer cancel()

		return callWithDeadline(callCtx, func(callCtx context.Context) (float64, error) {
			out, err := a.recon.Reconstruct(callCtx, copyRows(window))
			if err != nil {
				return 0, err
			}
			return ReconstructionError(window, out)
		})
	})
	metrics.ObserveModelCall("reconstruction", time.Since(start), err)

	if err != nil {
		a.logger.Warn("Reconstruction model failed, using safe default",
			zap.Error(err),
		)
		return ReconstructionResult{Error: 0.0, Err: err}
	}

	return ReconstructionResult{Error: mse}
}

// ReconstructionError 输入与重构输出之间所有时间步、所有特征上的均方误差
func ReconstructionError(input, output [][]float64) (float64, error) {
	if len(input) == 0 || len(input) != len(output) {
		return 0, fmt.Errorf("%w: got %d rows, want %d", ErrMalformedOutput, len(output), len(input))
	}

	sum := 0.0
	n := 0
	for i := range input {
		if len(input[i]) != len(output[i]) {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrMalformedOutput, i, len(output[i]), len(input[i]))
		}
		for j := range input[i] {
			d := input[i][j] - output[i][j]
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty rows", ErrMalformedOutput)
	}

	mse := sum / float64(n)
	if math.IsNaN(mse) || math.IsInf(mse, 0) {
		return 0, fmt.Errorf("%w: non-finite reconstruction", ErrMalformedOutput)
	}
	return mse, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// callWithDeadline 在独立 goroutine 中调用模型，ctx 到期即返回，不等待不响应 ctx 的模型
// 超时后模型的迟到结果被丢弃；模型 panic 转为错误
func callWithDeadline[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: fmt.Errorf("model panicked: %v", p)}
			}
			done <- r
		}()
		r.value, r.err = fn(ctx)
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("model call abandoned: %w", ctx.Err())
	}
}

func copyRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
