package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/alerting"
	"github.com/Sarang2401/Precursor-Main/internal/buffer"
	"github.com/Sarang2401/Precursor-Main/internal/ensemble"
	"github.com/Sarang2401/Precursor-Main/internal/features"
	"github.com/Sarang2401/Precursor-Main/internal/geo"
	"github.com/Sarang2401/Precursor-Main/internal/model"
	"github.com/Sarang2401/Precursor-Main/internal/models"
	"github.com/Sarang2401/Precursor-Main/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubOutlier struct {
	label model.Label
	err   error
}

func (s stubOutlier) Predict(ctx context.Context, vector []float64) (model.Label, float64, error) {
	if s.err != nil {
		return "", 0, s.err
	}
	return s.label, -0.1, nil
}

type stubReconstruction struct {
	fn func([][]float64) ([][]float64, error)
}

func (s stubReconstruction) Reconstruct(ctx context.Context, seq [][]float64) ([][]float64, error) {
	return s.fn(seq)
}

func echo(seq [][]float64) ([][]float64, error) { return seq, nil }

func zeros(seq [][]float64) ([][]float64, error) {
	out := make([][]float64, len(seq))
	for i := range seq {
		out[i] = make([]float64, len(seq[i]))
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, a models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type setup struct {
	outlier   model.OutlierModel
	recon     model.ReconstructionModel
	scaler    features.Scaler
	publisher alerting.Publisher
	threshold *float64
}

func newTestProcessor(s setup) *Processor {
	logger := zap.NewNop()
	route := geo.NewReference([]geo.Waypoint{{Lat: 19.0760, Lon: 72.8777}})

	if s.scaler == nil {
		s.scaler = &features.MinMaxScaler{DataMin: []float64{15, 30}, DataMax: []float64{30, 80}, FeatureRange: [2]float64{0, 1}}
	}

	return NewProcessor(Dependencies{
		Buffers: buffer.NewStore(30),
		Rules: rules.NewEngine(rules.Thresholds{
			TempMin: 18, TempMax: 30, HumMin: 10, HumMax: 90, RouteToleranceM: 30,
		}, route),
		Features:  features.NewPipeline(s.scaler, 30, logger),
		Models:    model.NewAdapter(s.outlier, s.recon, time.Second, model.BreakerSettings{ConsecutiveFailures: 100, OpenTimeout: time.Minute}, logger),
		Scorer:    ensemble.NewScorer(ensemble.DefaultConfig()),
		Alerts:    alerting.NewStore(200),
		Publisher: s.publisher,
	}, Config{IFWindow: 10, ReconstructionErrorThreshold: s.threshold}, logger)
}

func normalReading(device string, i int) models.Reading {
	return models.NewReading(device, float64(1700000000+i),
		models.Float64Ptr(19.0760), models.Float64Ptr(72.8777),
		models.Float64Ptr(22), models.Float64Ptr(50), nil)
}

func TestProcess_MissingTemperature_LogsSensorFailure(t *testing.T) {
	p := newTestProcessor(setup{outlier: stubOutlier{label: model.LabelNormal}, recon: stubReconstruction{fn: echo}})

	r := models.NewReading("truck1", 1700000000, nil, nil, nil, models.Float64Ptr(25), nil)
	sum, err := p.Process(context.Background(), r)
	require.NoError(t, err)

	require.Len(t, sum.RuleHits, 1)
	assert.Equal(t, models.CategorySensorFailure, sum.RuleHits[0].Kind)
	assert.Equal(t, models.RiskLow, sum.RiskTier)
	assert.Equal(t, []models.Category{models.CategorySensorFailure}, sum.Categories)
	assert.True(t, sum.AlertLogged)
	assert.NotEmpty(t, sum.AlertID)
	assert.Equal(t, 1, sum.BufferSize)

	alerts := p.RecentAlerts(50)
	require.Len(t, alerts, 1)
	assert.Equal(t, "truck1", alerts[0].DeviceID)
	assert.Equal(t, sum.AlertID, alerts[0].AlertID)
}

func TestProcess_NormalStream_NoAlerts(t *testing.T) {
	p := newTestProcessor(setup{outlier: stubOutlier{label: model.LabelNormal}, recon: stubReconstruction{fn: echo}})

	var sum models.ResultSummary
	for i := 0; i < 30; i++ {
		var err error
		sum, err = p.Process(context.Background(), normalReading("truck1", i))
		require.NoError(t, err)
		assert.False(t, sum.AlertLogged, "reading %d", i)
		assert.Equal(t, i >= 9, sum.OutlierEvaluated, "reading %d", i)
		assert.Equal(t, i == 29, sum.ReconstructionEvaluated, "reading %d", i)
	}

	assert.Empty(t, sum.RuleHits)
	assert.NotNil(t, sum.RuleHits)
	assert.Equal(t, 0.0, sum.ReconstructionError)
	assert.Equal(t, 0.0, sum.EnsembleScore)
	assert.Equal(t, models.RiskLow, sum.RiskTier)
	assert.Equal(t, []models.Category{models.CategoryNone}, sum.Categories)
	assert.False(t, sum.Degraded)
	assert.Empty(t, p.RecentAlerts(50))
}

func TestProcess_OutlierModelFailure_IsDegraded(t *testing.T) {
	p := newTestProcessor(setup{outlier: stubOutlier{err: errors.New("connection refused")}, recon: stubReconstruction{fn: echo}})

	var sum models.ResultSummary
	for i := 0; i < 10; i++ {
		sum, _ = p.Process(context.Background(), normalReading("truck1", i))
	}

	assert.True(t, sum.Degraded)
	assert.False(t, sum.OutlierEvaluated)
	assert.False(t, sum.OutlierFlag)
	assert.Equal(t, 0.0, sum.OutlierScore)
	require.NotEmpty(t, sum.Warnings)
	assert.Contains(t, sum.Warnings[0], "outlier model unavailable")
	// 规则引擎不受影响，低分无规则命中时不写报警
	assert.False(t, sum.AlertLogged)
}

func TestProcess_OutlierLabelAlone_StaysLow(t *testing.T) {
	pub := &recordingPublisher{}
	threshold := 0.5
	p := newTestProcessor(setup{
		outlier:   stubOutlier{label: model.LabelOutlier},
		recon:     stubReconstruction{fn: zeros},
		publisher: pub,
		threshold: &threshold,
	})

	var sum models.ResultSummary
	for i := 0; i < 30; i++ {
		sum, _ = p.Process(context.Background(), normalReading("truck1", i))
	}

	// 缩放后 (22,50) -> (0.4667, 0.4)，MSE 约 0.189，norm 很小；离群标签贡献 0.3
	assert.True(t, sum.OutlierFlag)
	assert.True(t, sum.ReconstructionEvaluated)
	assert.Greater(t, sum.ReconstructionError, 0.0)
	assert.False(t, sum.ReconstructionFlag)
	assert.Equal(t, models.RiskLow, sum.RiskTier)
	assert.Zero(t, pub.count())
}

func TestProcess_UnscaledReconstruction_HighRisk(t *testing.T) {
	pub := &recordingPublisher{}
	threshold := 100.0
	p := newTestProcessor(setup{
		outlier:   stubOutlier{label: model.LabelOutlier},
		recon:     stubReconstruction{fn: zeros},
		scaler:    &features.MinMaxScaler{}, // 未拟合，回退到原始值
		publisher: pub,
		threshold: &threshold,
	})

	var sum models.ResultSummary
	for i := 0; i < 30; i++ {
		sum, _ = p.Process(context.Background(), normalReading("truck1", i))
	}

	// 原始值 MSE = (22² + 50²)/2 = 1492
	assert.InDelta(t, 1492.0, sum.ReconstructionError, 1e-9)
	assert.True(t, sum.ReconstructionFlag)
	assert.Greater(t, sum.ReconstructionNorm, 0.99)
	assert.Equal(t, models.RiskHigh, sum.RiskTier)
	assert.Equal(t, []models.Category{models.CategoryEnvironmentAnomaly, models.CategorySuspicious}, sum.Categories)
	assert.True(t, sum.Degraded)
	assert.True(t, sum.AlertLogged)
	assert.Equal(t, 1, pub.count())

	alerts := p.RecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].HasCategory(models.CategorySuspicious))
	assert.True(t, alerts[0].Degraded)
}

func TestProcess_PublishFailureDoesNotFailProcessing(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	p := newTestProcessor(setup{outlier: stubOutlier{label: model.LabelNormal}, recon: stubReconstruction{fn: echo}, publisher: pub})

	r := models.NewReading("truck1", 1, nil, nil, models.Float64Ptr(40), models.Float64Ptr(50), nil)
	sum, err := p.Process(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, sum.AlertLogged)
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, 1, p.Stats().Alerts)
}

func TestProcess_RouteDeviation(t *testing.T) {
	p := newTestProcessor(setup{outlier: stubOutlier{label: model.LabelNormal}, recon: stubReconstruction{fn: echo}})

	r := models.NewReading("truck1", 1, models.Float64Ptr(19.1), models.Float64Ptr(72.9),
		models.Float64Ptr(22), models.Float64Ptr(50), nil)
	sum, err := p.Process(context.Background(), r)
	require.NoError(t, err)

	require.Len(t, sum.RuleHits, 1)
	assert.Equal(t, models.CategoryRouteDeviation, sum.RuleHits[0].Kind)
	assert.Equal(t, []models.Category{models.CategoryRouteDeviation}, sum.Categories)
	assert.True(t, sum.AlertLogged)
}

func TestProcess_MissingDevice(t *testing.T) {
	p := newTestProcessor(setup{})

	sum, err := p.Process(context.Background(), models.NewReading("", 1, nil, nil, nil, nil, nil))
	assert.ErrorIs(t, err, ErrInvalidReading)
	assert.Equal(t, 0, p.Stats().Devices)

	// 被拒绝的读数同样得到结构完整的摘要
	assert.Equal(t, models.RiskLow, sum.RiskTier)
	assert.Equal(t, []models.Category{models.CategoryNone}, sum.Categories)
	assert.NotNil(t, sum.RuleHits)
	assert.False(t, sum.AlertLogged)
	assert.Empty(t, p.RecentAlerts(0))
}

func TestProcess_ConcurrentDevicesAreIsolated(t *testing.T) {
	p := newTestProcessor(setup{outlier: stubOutlier{label: model.LabelNormal}, recon: stubReconstruction{fn: echo}})

	const devices = 8
	const perDevice = 45

	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			id := fmt.Sprintf("truck%d", d)
			for i := 0; i < perDevice; i++ {
				sum, err := p.Process(context.Background(), normalReading(id, i))
				assert.NoError(t, err)
				assert.LessOrEqual(t, sum.BufferSize, 30)
			}
		}(d)
	}
	wg.Wait()

	assert.Equal(t, devices, p.Stats().Devices)
	assert.Equal(t, 0, p.Stats().Alerts)
}
