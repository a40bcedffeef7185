package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/alerting"
	"github.com/Sarang2401/Precursor-Main/internal/buffer"
	"github.com/Sarang2401/Precursor-Main/internal/ensemble"
	"github.com/Sarang2401/Precursor-Main/internal/features"
	"github.com/Sarang2401/Precursor-Main/internal/metrics"
	"github.com/Sarang2401/Precursor-Main/internal/model"
	"github.com/Sarang2401/Precursor-Main/internal/models"
	"github.com/Sarang2401/Precursor-Main/internal/rules"

	"go.uber.org/zap"
)

// ErrInvalidReading 读数缺少 device_id
var ErrInvalidReading = errors.New("invalid reading")

// Config 处理器参数
type Config struct {
	// IFWindow 离群路径使用的最近读数条数（<= 缓冲区容量）
	IFWindow int
	// ReconstructionErrorThreshold 非 nil 时，重构误差超过该值置 ReconstructionFlag
	ReconstructionErrorThreshold *float64
	// PublishTimeout 单条报警发布的超时
	PublishTimeout time.Duration
}

// Dependencies 处理器依赖
type Dependencies struct {
	Buffers   *buffer.Store
	Rules     *rules.Engine
	Features  *features.Pipeline
	Models    *model.Adapter
	Scorer    *ensemble.Scorer
	Alerts    *alerting.Store
	Publisher alerting.Publisher
}

// Stats 运行时统计
type Stats struct {
	Devices int `json:"devices"`
	Alerts  int `json:"alerts"`
}

// Processor 单条读数处理入口：缓冲 → 规则 → 模型 → 融合 → 报警
// 同一设备的处理完全串行（持有设备锁），不同设备互不阻塞
type Processor struct {
	buffers   *buffer.Store
	rules     *rules.Engine
	features  *features.Pipeline
	models    *model.Adapter
	scorer    *ensemble.Scorer
	alerts    *alerting.Store
	publisher alerting.Publisher
	cfg       Config
	logger    *zap.Logger
}

// NewProcessor 创建处理器
func NewProcessor(deps Dependencies, cfg Config, logger *zap.Logger) *Processor {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = alerting.NopPublisher{}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	return &Processor{
		buffers:   deps.Buffers,
		rules:     deps.Rules,
		features:  deps.Features,
		models:    deps.Models,
		scorer:    deps.Scorer,
		alerts:    deps.Alerts,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process 处理单条读数；总是返回结构完整的结果摘要，模型故障时以降级默认值代替
// 缺少 device_id 的读数不进入缓冲区，返回 LOW / [none] 摘要和 ErrInvalidReading
func (p *Processor) Process(ctx context.Context, reading models.Reading) (models.ResultSummary, error) {
	if reading.DeviceID == "" {
		return rejectedSummary(), fmt.Errorf("%w: missing device_id", ErrInvalidReading)
	}

	var (
		summary models.ResultSummary
		logged  *models.Alert
	)

	p.buffers.AppendAndThen(reading.DeviceID, reading, func(snapshot []models.Reading) {
		summary = p.evaluate(ctx, reading, snapshot)
		if ensemble.ShouldEmit(summary.RiskTier, summary.RuleHits) {
			a := p.alerts.Insert(buildAlert(reading, summary))
			summary.AlertLogged = true
			summary.AlertID = a.AlertID
			logged = &a
		}
	})

	p.record(reading, summary)

	// 发布在设备锁之外进行，不阻塞同设备的下一条读数
	if logged != nil {
		p.publish(ctx, *logged)
	}

	return summary, nil
}

// RecentAlerts 最新的 limit 条报警（最新在前）
func (p *Processor) RecentAlerts(limit int) []models.Alert {
	return p.alerts.Recent(limit)
}

// Stats 当前设备数与报警日志条数
func (p *Processor) Stats() Stats {
	return Stats{
		Devices: p.buffers.DeviceCount(),
		Alerts:  p.alerts.Len(),
	}
}

// evaluate 在持有设备锁的情况下执行
func (p *Processor) evaluate(ctx context.Context, reading models.Reading, snapshot []models.Reading) models.ResultSummary {
	summary := models.ResultSummary{
		RuleHits:   p.rules.Evaluate(reading),
		BufferSize: len(snapshot),
	}
	if summary.RuleHits == nil {
		summary.RuleHits = []models.RuleHit{}
	}

	// 离群路径：最近 IF_WINDOW 条
	if p.cfg.IFWindow > 0 && len(snapshot) >= p.cfg.IFWindow {
		p.runOutlier(ctx, snapshot[len(snapshot)-p.cfg.IFWindow:], &summary)
	}

	// 重构路径：缓冲区恰好满
	if len(snapshot) == p.buffers.Capacity() {
		p.runReconstruction(ctx, snapshot, &summary)
	}

	res := p.scorer.Score(ensemble.Signals{
		ReconstructionError: summary.ReconstructionError,
		Outlier:             summary.OutlierFlag,
	})
	summary.ReconstructionNorm = res.ReconstructionNorm
	summary.EnsembleScore = res.Score
	summary.RiskTier = res.Tier
	summary.Categories = p.scorer.Categories(summary.RuleHits, res)

	return summary
}

func (p *Processor) runOutlier(ctx context.Context, window []models.Reading, summary *models.ResultSummary) {
	vec, err := features.StatFeatures(window)
	if err != nil {
		p.degrade(summary, "outlier", fmt.Sprintf("outlier path skipped: %v", err))
		return
	}

	out := p.models.Classify(ctx, vec)
	if out.Err != nil {
		p.degrade(summary, "outlier", fmt.Sprintf("outlier model unavailable: %v", out.Err))
		return
	}

	summary.OutlierEvaluated = true
	summary.OutlierFlag = out.IsOutlier()
	summary.OutlierScore = out.Score
}

func (p *Processor) runReconstruction(ctx context.Context, snapshot []models.Reading, summary *models.ResultSummary) {
	seq, scaled, err := p.features.SequenceFeatures(snapshot)
	if err != nil {
		p.degrade(summary, "reconstruction", fmt.Sprintf("reconstruction path skipped: %v", err))
		return
	}
	if !scaled {
		p.degrade(summary, "scaler", "scaler unavailable, reconstruction used unscaled window")
	}

	out := p.models.Reconstruct(ctx, seq)
	if out.Err != nil {
		p.degrade(summary, "reconstruction", fmt.Sprintf("reconstruction model unavailable: %v", out.Err))
		return
	}

	summary.ReconstructionEvaluated = true
	summary.ReconstructionError = out.Error
	if t := p.cfg.ReconstructionErrorThreshold; t != nil {
		summary.ReconstructionFlag = out.Error > *t
	}
}

func (p *Processor) degrade(summary *models.ResultSummary, path, warning string) {
	summary.Degraded = true
	summary.Warnings = append(summary.Warnings, warning)
	metrics.IncDegraded(path)
}

func (p *Processor) record(reading models.Reading, summary models.ResultSummary) {
	for _, h := range summary.RuleHits {
		metrics.IncRuleHit(string(h.Kind))
	}
	metrics.SetTrackedDevices(p.buffers.DeviceCount())

	if !summary.AlertLogged {
		return
	}
	metrics.IncAlert(string(summary.RiskTier))
	metrics.SetAlertLogSize(p.alerts.Len())

	p.logger.Info("Alert logged",
		zap.String("alert_id", summary.AlertID),
		zap.String("device_id", reading.DeviceID),
		zap.String("risk", string(summary.RiskTier)),
		zap.Float64("ensemble_score", summary.EnsembleScore),
		zap.Int("rule_hits", len(summary.RuleHits)),
		zap.Bool("degraded", summary.Degraded),
	)
}

func (p *Processor) publish(ctx context.Context, alert models.Alert) {
	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	if err := p.publisher.Publish(pubCtx, alert); err != nil {
		metrics.IncPublishFailure()
		p.logger.Warn("Failed to publish alert",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
	}
}

func rejectedSummary() models.ResultSummary {
	return models.ResultSummary{
		RuleHits:   []models.RuleHit{},
		RiskTier:   models.RiskLow,
		Categories: []models.Category{models.CategoryNone},
	}
}

func buildAlert(r models.Reading, s models.ResultSummary) models.Alert {
	return models.Alert{
		DeviceID:            r.DeviceID,
		Timestamp:           r.Timestamp,
		Latitude:            r.Latitude,
		Longitude:           r.Longitude,
		Temperature:         r.Temperature,
		Humidity:            r.Humidity,
		Weight:              r.Weight,
		RuleHits:            s.RuleHits,
		OutlierFlag:         s.OutlierFlag,
		OutlierScore:        s.OutlierScore,
		ReconstructionError: s.ReconstructionError,
		ReconstructionNorm:  s.ReconstructionNorm,
		EnsembleScore:       s.EnsembleScore,
		RiskTier:            s.RiskTier,
		Categories:          s.Categories,
		Degraded:            s.Degraded,
		Warnings:            s.Warnings,
	}
}
