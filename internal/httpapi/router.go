package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

// NewRouter 创建路由
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

// Handle 注册 HandlerFunc
func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRoutes 注册全部接口
// 兼容旧看板的路径（/report、/alerts、/check_thingspeak）保持不变
func (r *Router) RegisterRoutes(h *Handler) {
	r.Handle("/report", allow(http.MethodPost, h.Report))
	r.Handle("/alerts", allow(http.MethodGet, h.Alerts))
	r.Handle("/check_thingspeak", allow(http.MethodGet, h.CheckThingSpeak))
	r.Handle("/healthz", allow(http.MethodGet, h.Health))

	r.Handle("/api/v1/alerts/export", allow(http.MethodGet, h.ExportAlerts))

	r.HandleHandler("/metrics", promhttp.Handler())
}

func allow(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, req)
	}
}
