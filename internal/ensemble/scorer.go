package ensemble

import (
	"math"

	"github.com/Sarang2401/Precursor-Main/internal/models"
)

// Config 融合参数（全部可通过环境变量调整）
type Config struct {
	WeightReconstruction     float64
	WeightOutlier            float64
	RiskHigh                 float64
	RiskMedium               float64
	ReconstructionAlpha      float64
	EnvironmentNormThreshold float64
}

// DefaultConfig 训练时标定的默认参数
func DefaultConfig() Config {
	return Config{
		WeightReconstruction:     0.7,
		WeightOutlier:            0.3,
		RiskHigh:                 0.8,
		RiskMedium:               0.5,
		ReconstructionAlpha:      100.0,
		EnvironmentNormThreshold: 0.6,
	}
}

// Signals 单条读数的模型信号
type Signals struct {
	ReconstructionError float64
	Outlier             bool
}

// Result 融合结果
type Result struct {
	ReconstructionNorm float64
	Score              float64
	Tier               models.RiskTier
}

// Scorer 把规则命中与模型信号融合为风险分数、风险等级与类别
type Scorer struct {
	cfg Config
}

// NewScorer 创建 Scorer
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// NormalizeReconstruction norm = 1 - exp(-err/α)，结果在 [0,1)
// 负值、NaN 或 α 非正时返回 0
func (s *Scorer) NormalizeReconstruction(err float64) float64 {
	if math.IsNaN(err) || err <= 0 || s.cfg.ReconstructionAlpha <= 0 {
		return 0
	}
	if math.IsInf(err, 1) {
		return 1
	}
	return 1 - math.Exp(-err/s.cfg.ReconstructionAlpha)
}

// Score 计算融合分数与风险等级
func (s *Scorer) Score(sig Signals) Result {
	reconNorm := s.NormalizeReconstruction(sig.ReconstructionError)
	outlierNorm := 0.0
	if sig.Outlier {
		outlierNorm = 1.0
	}

	score := s.cfg.WeightReconstruction*reconNorm + s.cfg.WeightOutlier*outlierNorm
	score = math.Max(0, math.Min(1, score))

	return Result{
		ReconstructionNorm: reconNorm,
		Score:              score,
		Tier:               s.Tier(score),
	}
}

// Tier 分数到风险等级
func (s *Scorer) Tier(score float64) models.RiskTier {
	switch {
	case score >= s.cfg.RiskHigh:
		return models.RiskHigh
	case score >= s.cfg.RiskMedium:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Categories 类别推导，输出顺序固定：
// sensor_failure, environment_anomaly, route_deviation, suspicious_behavior；均不满足时为 none
func (s *Scorer) Categories(hits []models.RuleHit, res Result) []models.Category {
	var sensor, env, route bool
	for _, h := range hits {
		switch h.Kind {
		case models.CategorySensorFailure:
			sensor = true
		case models.CategoryEnvironmentAnomaly:
			env = true
		case models.CategoryRouteDeviation:
			route = true
		}
	}
	if res.ReconstructionNorm > s.cfg.EnvironmentNormThreshold {
		env = true
	}

	cats := make([]models.Category, 0, 4)
	if sensor {
		cats = append(cats, models.CategorySensorFailure)
	}
	if env {
		cats = append(cats, models.CategoryEnvironmentAnomaly)
	}
	if route {
		cats = append(cats, models.CategoryRouteDeviation)
	}
	if res.Score >= s.cfg.RiskHigh {
		cats = append(cats, models.CategorySuspicious)
	}
	if len(cats) == 0 {
		cats = append(cats, models.CategoryNone)
	}
	return cats
}

// ShouldEmit 报警写入策略：MEDIUM/HIGH，或任一规则命中（低分也不压制规则信号）
func ShouldEmit(tier models.RiskTier, hits []models.RuleHit) bool {
	return tier == models.RiskMedium || tier == models.RiskHigh || len(hits) > 0
}
