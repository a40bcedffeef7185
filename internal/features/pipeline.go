package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sarang2401/Precursor-Main/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrEmptyWindow 窗口内没有同时包含温湿度的读数
	ErrEmptyWindow = errors.New("no complete readings in window")
	// ErrIncompleteWindow 序列窗口长度不等于 SEQ_LEN，或含缺失温湿度的读数
	ErrIncompleteWindow = errors.New("incomplete sequence window")
)

// StatFeatureVector 离群模型输入：
// [mean(temp), std(temp), last-first(temp), mean(hum), std(hum), last-first(hum)]
type StatFeatureVector [6]float64

// Slice 转为切片（模型请求体使用）
func (v StatFeatureVector) Slice() []float64 {
	return append([]float64(nil), v[:]...)
}

// SequenceWindow 序列重构模型输入，每行 [temperature, humidity]，按到达顺序
type SequenceWindow [][]float64

// Pipeline 特征管道
type Pipeline struct {
	scaler Scaler
	seqLen int
	logger *zap.Logger
}

// NewPipeline 创建特征管道；scaler 可为 nil（此时序列窗口以原始值进入模型，并标记为降级）
func NewPipeline(scaler Scaler, seqLen int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		scaler: scaler,
		seqLen: seqLen,
		logger: logger,
	}
}

// StatFeatures 计算统计特征；缺失温湿度的读数不参与计算
// std 为总体标准差（ddof=0），单样本时为 0
func StatFeatures(window []models.Reading) (StatFeatureVector, error) {
	temps := make([]float64, 0, len(window))
	hums := make([]float64, 0, len(window))
	for _, r := range window {
		if !r.HasEnvironment() {
			continue
		}
		temps = append(temps, *r.Temperature)
		hums = append(hums, *r.Humidity)
	}
	if len(temps) == 0 {
		return StatFeatureVector{}, ErrEmptyWindow
	}

	tMean, tStd := meanStd(temps)
	hMean, hStd := meanStd(hums)

	return StatFeatureVector{
		tMean, tStd, temps[len(temps)-1] - temps[0],
		hMean, hStd, hums[len(hums)-1] - hums[0],
	}, nil
}

// SequenceFeatures 构建并缩放序列窗口
// 返回 scaled=false 表示 scaler 缺失或失败，窗口为原始值（fail-open）
func (p *Pipeline) SequenceFeatures(window []models.Reading) (SequenceWindow, bool, error) {
	if len(window) != p.seqLen {
		return nil, false, fmt.Errorf("%w: got %d readings, want %d", ErrIncompleteWindow, len(window), p.seqLen)
	}

	raw := make(SequenceWindow, len(window))
	for i, r := range window {
		if !r.HasEnvironment() {
			return nil, false, fmt.Errorf("%w: reading %d missing temperature or humidity", ErrIncompleteWindow, i)
		}
		raw[i] = []float64{*r.Temperature, *r.Humidity}
	}

	if p.scaler == nil {
		p.logger.Warn("Scaler unavailable, using unscaled sequence window",
			zap.String("device_id", window[len(window)-1].DeviceID),
		)
		return raw, false, nil
	}

	scaled, err := p.scaler.Transform(raw)
	if err != nil {
		p.logger.Warn("Scaler transform failed, using unscaled sequence window",
			zap.String("device_id", window[len(window)-1].DeviceID),
			zap.Error(err),
		)
		return raw, false, nil
	}

	return scaled, true, nil
}

func meanStd(values []float64) (float64, float64) {
	n := float64(len(values))
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	if len(values) < 2 {
		return mean, 0
	}

	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}
