package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/models"
	"github.com/Sarang2401/Precursor-Main/internal/poller"
	"github.com/Sarang2401/Precursor-Main/internal/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type fakeService struct {
	mu       sync.Mutex
	readings []models.Reading
	alerts   []models.Alert
	limits   []int
	err      error
}

func (f *fakeService) Process(ctx context.Context, r models.Reading) (models.ResultSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.ResultSummary{}, f.err
	}
	f.readings = append(f.readings, r)
	return models.ResultSummary{
		RuleHits:   []models.RuleHit{},
		RiskTier:   models.RiskLow,
		Categories: []models.Category{models.CategoryNone},
		BufferSize: len(f.readings),
	}, nil
}

func (f *fakeService) RecentAlerts(limit int) []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if limit <= 0 || limit > len(f.alerts) {
		return append([]models.Alert{}, f.alerts...)
	}
	return append([]models.Alert{}, f.alerts[:limit]...)
}

func (f *fakeService) Stats() processor.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return processor.Stats{Devices: 3, Alerts: len(f.alerts)}
}

type fakeChecker struct {
	summary models.ResultSummary
	err     error
}

func (f *fakeChecker) PollOnce(ctx context.Context) (models.ResultSummary, error) {
	return f.summary, f.err
}

func newTestRouter(svc ReadingService, checker ThingSpeakChecker) *Router {
	h := NewHandler(svc, checker, zap.NewNop())
	h.now = func() time.Time { return time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC) }
	r := NewRouter(zap.NewNop())
	r.RegisterRoutes(h)
	return r
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleAlerts() []models.Alert {
	return []models.Alert{
		{
			AlertID:     "a-2",
			CreatedAt:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
			DeviceID:    "truck2",
			Timestamp:   1709280000,
			Temperature: models.Float64Ptr(35.5),
			Humidity:    models.Float64Ptr(50),
			RuleHits: []models.RuleHit{
				{Kind: models.CategoryEnvironmentAnomaly, Detail: models.DetailTempOutOfRange, Value: models.Float64Ptr(35.5)},
			},
			EnsembleScore: 0.3,
			RiskTier:      models.RiskLow,
			Categories:    []models.Category{models.CategoryEnvironmentAnomaly},
		},
		{
			AlertID:       "a-1",
			CreatedAt:     time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC),
			DeviceID:      "truck1",
			Timestamp:     1709276400,
			OutlierFlag:   true,
			EnsembleScore: 0.9,
			RiskTier:      models.RiskHigh,
			Categories:    []models.Category{models.CategoryEnvironmentAnomaly, models.CategorySuspicious},
			Degraded:      true,
		},
	}
}

func TestReport_OK(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)

	rec := do(t, r, http.MethodPost, "/report", []byte(`{"device_id":"truck1","lat":19.1,"lon":72.9,"temp":22,"hum":50}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Status string               `json:"status"`
		Result models.ResultSummary `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, models.RiskLow, resp.Result.RiskTier)
	assert.Equal(t, 1, resp.Result.BufferSize)

	require.Len(t, svc.readings, 1)
	assert.Equal(t, "truck1", svc.readings[0].DeviceID)
	// 缺失 timestamp 时使用服务端时间
	assert.Equal(t, float64(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC).Unix()), svc.readings[0].Timestamp)
}

func TestReport_DefaultsDevice(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)

	rec := do(t, r, http.MethodPost, "/report", []byte(`{"temp":22,"hum":50}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.readings, 1)
	assert.Equal(t, unknownDevice, svc.readings[0].DeviceID)
}

func TestReport_BadRequest(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	for _, body := range []string{`not json`, `{"temp":"hot"}`, ``} {
		rec := do(t, r, http.MethodPost, "/report", []byte(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}

	failing := newTestRouter(&fakeService{err: errors.New("invalid reading")}, nil)
	rec := do(t, failing, http.MethodPost, "/report", []byte(`{"temp":22}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReport_MethodNotAllowed(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	rec := do(t, r, http.MethodGet, "/report", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = do(t, r, http.MethodPost, "/alerts", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAlerts_Limit(t *testing.T) {
	svc := &fakeService{alerts: sampleAlerts()}
	r := newTestRouter(svc, nil)

	rec := do(t, r, http.MethodGet, "/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Alerts []models.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Alerts, 2)
	assert.Equal(t, "a-2", resp.Alerts[0].AlertID)

	rec = do(t, r, http.MethodGet, "/alerts?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Alerts, 1)

	assert.Equal(t, []int{defaultAlertLimit, 1}, svc.limits)

	rec = do(t, r, http.MethodGet, "/alerts?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, r, http.MethodGet, "/alerts?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlerts_EmptyIsArray(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	rec := do(t, r, http.MethodGet, "/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"alerts":[]}`, rec.Body.String())
}

func TestCheckThingSpeak(t *testing.T) {
	rec := do(t, newTestRouter(&fakeService{}, nil), http.MethodGet, "/check_thingspeak", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"no_data"}`, rec.Body.String())

	rec = do(t, newTestRouter(&fakeService{}, &fakeChecker{err: poller.ErrNoData}), http.MethodGet, "/check_thingspeak", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, newTestRouter(&fakeService{}, &fakeChecker{err: errors.New("thingspeak returned status 500")}), http.MethodGet, "/check_thingspeak", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	checker := &fakeChecker{summary: models.ResultSummary{RiskTier: models.RiskMedium, AlertLogged: true}}
	rec = do(t, newTestRouter(&fakeService{}, checker), http.MethodGet, "/check_thingspeak", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string               `json:"status"`
		Result models.ResultSummary `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, models.RiskMedium, resp.Result.RiskTier)
	assert.True(t, resp.Result.AlertLogged)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&fakeService{alerts: sampleAlerts()}, nil)

	rec := do(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","devices":3,"alerts":2}`, rec.Body.String())
}

func TestExportAlerts(t *testing.T) {
	svc := &fakeService{alerts: sampleAlerts()}
	r := newTestRouter(svc, nil)

	rec := do(t, r, http.MethodGet, "/api/v1/alerts/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="alerts_20240301_083000.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, []int{0}, svc.limits)

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{alertSheetName}, f.GetSheetList())

	rows, err := f.GetRows(alertSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, AlertExportHeader, rows[0])

	assert.Equal(t, "a-2", rows[1][0])
	assert.Equal(t, "truck2", rows[1][2])
	assert.Equal(t, "environment_anomaly/temp_out_of_range=35.50", rows[1][9])
	assert.Equal(t, "LOW", rows[1][15])

	assert.Equal(t, "a-1", rows[2][0])
	assert.Equal(t, "Yes", rows[2][10])
	assert.Equal(t, "HIGH", rows[2][15])
	assert.Equal(t, "environment_anomaly, suspicious_behavior", rows[2][16])
	assert.Equal(t, "Yes", rows[2][17])
}

func TestExportAlerts_BadLimit(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	rec := do(t, r, http.MethodGet, "/api/v1/alerts/export?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateAlertExport_Empty(t *testing.T) {
	data, err := GenerateAlertExport(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(alertSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alert ID", rows[0][0])
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	rec := do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
