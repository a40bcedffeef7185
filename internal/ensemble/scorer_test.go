package ensemble

import (
	"math"
	"testing"

	"github.com/Sarang2401/Precursor-Main/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestScorer_Tier(t *testing.T) {
	s := NewScorer(DefaultConfig())

	tests := []struct {
		score float64
		want  models.RiskTier
	}{
		{0.9, models.RiskHigh},
		{0.8, models.RiskHigh},
		{0.6, models.RiskMedium},
		{0.5, models.RiskMedium},
		{0.2, models.RiskLow},
		{0.0, models.RiskLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Tier(tt.score), "score %v", tt.score)
	}
}

func TestScorer_NormalizeReconstruction(t *testing.T) {
	s := NewScorer(DefaultConfig())

	assert.Equal(t, 0.0, s.NormalizeReconstruction(0))
	assert.Equal(t, 0.0, s.NormalizeReconstruction(-5))
	assert.Equal(t, 0.0, s.NormalizeReconstruction(math.NaN()))
	assert.Equal(t, 1.0, s.NormalizeReconstruction(math.Inf(1)))
	assert.InDelta(t, 1-math.Exp(-1), s.NormalizeReconstruction(100), 1e-12)

	// 单调递增
	prev := 0.0
	for _, e := range []float64{0.01, 1, 10, 100, 1000} {
		n := s.NormalizeReconstruction(e)
		assert.Greater(t, n, prev)
		assert.LessOrEqual(t, n, 1.0)
		prev = n
	}
}

func TestScorer_Score(t *testing.T) {
	s := NewScorer(DefaultConfig())

	res := s.Score(Signals{})
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, models.RiskLow, res.Tier)

	res = s.Score(Signals{Outlier: true})
	assert.InDelta(t, 0.3, res.Score, 1e-12)
	assert.Equal(t, models.RiskLow, res.Tier)

	res = s.Score(Signals{ReconstructionError: 1e6, Outlier: true})
	assert.InDelta(t, 1.0, res.Score, 1e-9)
	assert.LessOrEqual(t, res.Score, 1.0)
	assert.Equal(t, models.RiskHigh, res.Tier)

	// 0.7 * (1 - e^-1) ≈ 0.4425
	res = s.Score(Signals{ReconstructionError: 100})
	assert.InDelta(t, 0.7*(1-math.Exp(-1)), res.Score, 1e-12)
	assert.Equal(t, models.RiskLow, res.Tier)
}

func TestScorer_Categories(t *testing.T) {
	s := NewScorer(DefaultConfig())
	v := 45.0

	tests := []struct {
		name string
		hits []models.RuleHit
		res  Result
		want []models.Category
	}{
		{
			name: "nothing",
			res:  Result{Score: 0.1},
			want: []models.Category{models.CategoryNone},
		},
		{
			name: "sensor and route",
			hits: []models.RuleHit{
				{Kind: models.CategorySensorFailure, Detail: models.DetailMissingTempOrHum},
				{Kind: models.CategoryRouteDeviation, Detail: models.DetailDistanceM, Value: &v},
			},
			want: []models.Category{models.CategorySensorFailure, models.CategoryRouteDeviation},
		},
		{
			name: "reconstruction implies environment",
			res:  Result{ReconstructionNorm: 0.61, Score: 0.43},
			want: []models.Category{models.CategoryEnvironmentAnomaly},
		},
		{
			name: "reconstruction at threshold does not",
			res:  Result{ReconstructionNorm: 0.6, Score: 0.42},
			want: []models.Category{models.CategoryNone},
		},
		{
			name: "high score is suspicious",
			hits: []models.RuleHit{{Kind: models.CategoryEnvironmentAnomaly, Detail: models.DetailTempOutOfRange, Value: &v}},
			res:  Result{ReconstructionNorm: 0.99, Score: 0.99},
			want: []models.Category{models.CategoryEnvironmentAnomaly, models.CategorySuspicious},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Categories(tt.hits, tt.res))
		})
	}
}

func TestShouldEmit(t *testing.T) {
	hit := []models.RuleHit{{Kind: models.CategorySensorFailure, Detail: models.DetailMissingTempOrHum}}

	assert.False(t, ShouldEmit(models.RiskLow, nil))
	assert.True(t, ShouldEmit(models.RiskLow, hit))
	assert.True(t, ShouldEmit(models.RiskMedium, nil))
	assert.True(t, ShouldEmit(models.RiskHigh, nil))
}
