package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/metrics"
	"github.com/Sarang2401/Precursor-Main/internal/models"
	"github.com/Sarang2401/Precursor-Main/internal/poller"
	"github.com/Sarang2401/Precursor-Main/internal/processor"

	"go.uber.org/zap"
)

const (
	defaultAlertLimit = 50
	maxReportBytes    = 1 << 20
	// 未携带 device_id 的上报归到该设备
	unknownDevice = "unknown"
)

// ReadingService 处理器能力
type ReadingService interface {
	Process(ctx context.Context, reading models.Reading) (models.ResultSummary, error)
	RecentAlerts(limit int) []models.Alert
	Stats() processor.Stats
}

// ThingSpeakChecker 手动触发一次 ThingSpeak 拉取
type ThingSpeakChecker interface {
	PollOnce(ctx context.Context) (models.ResultSummary, error)
}

// Handler HTTP 接口
type Handler struct {
	service    ReadingService
	thingspeak ThingSpeakChecker
	logger     *zap.Logger
	now        func() time.Time
}

// NewHandler 创建 Handler；thingspeak 为 nil 表示未配置频道
func NewHandler(service ReadingService, thingspeak ThingSpeakChecker, logger *zap.Logger) *Handler {
	return &Handler{
		service:    service,
		thingspeak: thingspeak,
		logger:     logger,
		now:        time.Now,
	}
}

type statusResponse struct {
	Status string                `json:"status"`
	Result *models.ResultSummary `json:"result,omitempty"`
}

// Report POST /report
// 设备（或 ThingSpeak webhook 转发）上报单条读数
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	reading, err := models.DecodeReading(body, unknownDevice, h.now())
	if err != nil {
		metrics.IncReadingRejected("parse")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.service.Process(r.Context(), reading)
	if err != nil {
		metrics.IncReadingRejected("process")
		h.logger.Warn("Failed to process reading",
			zap.String("device_id", reading.DeviceID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.ObserveReading("http", time.Since(start))

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Result: &summary})
}

// Alerts GET /alerts?limit=50
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), defaultAlertLimit)
	if limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": h.service.RecentAlerts(limit)})
}

// CheckThingSpeak GET /check_thingspeak
func (h *Handler) CheckThingSpeak(w http.ResponseWriter, r *http.Request) {
	if h.thingspeak == nil {
		writeJSON(w, http.StatusNotFound, statusResponse{Status: "no_data"})
		return
	}

	summary, err := h.thingspeak.PollOnce(r.Context())
	if err != nil {
		if errors.Is(err, poller.ErrNoData) {
			writeJSON(w, http.StatusNotFound, statusResponse{Status: "no_data"})
			return
		}
		h.logger.Warn("ThingSpeak check failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Result: &summary})
}

// Health GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.service.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": stats.Devices,
		"alerts":  stats.Alerts,
	})
}

// ExportAlerts GET /api/v1/alerts/export?limit=N
// 导出报警日志为 Excel（默认全部）
func (h *Handler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 0)
	if limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	data, err := GenerateAlertExport(h.service.RecentAlerts(limit))
	if err != nil {
		h.logger.Error("Failed to generate alert export", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate export")
		return
	}

	filename := fmt.Sprintf("alerts_%s.xlsx", h.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
