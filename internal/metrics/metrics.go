package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "precursor_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	readingsTotal     *prometheus.CounterVec
	readingsRejected  *prometheus.CounterVec
	processingLatency prometheus.Histogram

	ruleHitsTotal   *prometheus.CounterVec
	alertsTotal     *prometheus.CounterVec
	degradedTotal   *prometheus.CounterVec
	publishFailures prometheus.Counter

	modelCallsTotal  *prometheus.CounterVec
	modelCallLatency *prometheus.HistogramVec
	trackedDevices   prometheus.Gauge
	alertLogSize     prometheus.Gauge
	thingSpeakPolls  *prometheus.CounterVec
)

// Init 注册指标；可重复调用，只注册一次
// 未调用 Init 时所有 Observe/Inc 函数均为空操作（单元测试不需要注册表）
func Init() {
	registerOnce.Do(func() {
		readingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Total readings processed by ingest source",
			},
			[]string{"source"},
		)
		readingsRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_rejected_total",
				Help: "Total readings rejected before processing by reason",
			},
			[]string{"reason"},
		)
		processingLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "processing_latency_seconds",
				Help:    "End-to-end latency of processing one reading",
				Buckets: prometheus.DefBuckets,
			},
		)
		ruleHitsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_hits_total",
				Help: "Total rule hits by category",
			},
			[]string{"category"},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Total alerts logged by risk tier",
			},
			[]string{"risk"},
		)
		degradedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "degraded_results_total",
				Help: "Total results produced in degraded mode by path",
			},
			[]string{"path"},
		)
		publishFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_publish_failures_total",
				Help: "Total failures publishing alerts to the outbound stream",
			},
		)
		modelCallsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "model_calls_total",
				Help: "Total model calls by model and result",
			},
			[]string{"model", "result"},
		)
		modelCallLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "model_call_latency_seconds",
				Help:    "Model call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		)
		trackedDevices = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tracked_devices",
				Help: "Number of devices with an in-memory reading buffer",
			},
		)
		alertLogSize = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alert_log_size",
				Help: "Number of alerts currently held in the alert log",
			},
		)
		thingSpeakPolls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "thingspeak_polls_total",
				Help: "Total ThingSpeak polls by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			readingsTotal,
			readingsRejected,
			processingLatency,
			ruleHitsTotal,
			alertsTotal,
			degradedTotal,
			publishFailures,
			modelCallsTotal,
			modelCallLatency,
			trackedDevices,
			alertLogSize,
			thingSpeakPolls,
		)
	})
}

// ObserveReading 记录一条读数的处理耗时
func ObserveReading(source string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if readingsTotal != nil {
		readingsTotal.WithLabelValues(source).Inc()
	}
	if processingLatency != nil {
		processingLatency.Observe(duration.Seconds())
	}
}

// IncReadingRejected 读数在进入处理器之前被拒绝
func IncReadingRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if readingsRejected != nil {
		readingsRejected.WithLabelValues(reason).Inc()
	}
}

// IncRuleHit 规则命中计数
func IncRuleHit(category string) {
	if ruleHitsTotal != nil {
		ruleHitsTotal.WithLabelValues(category).Inc()
	}
}

// IncAlert 告警计数
func IncAlert(risk string) {
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(risk).Inc()
	}
}

// IncDegraded 降级计数（path: outlier / reconstruction / scaler）
func IncDegraded(path string) {
	if degradedTotal != nil {
		degradedTotal.WithLabelValues(path).Inc()
	}
}

// IncPublishFailure 告警发布失败计数
func IncPublishFailure() {
	if publishFailures != nil {
		publishFailures.Inc()
	}
}

// ObserveModelCall 记录模型调用结果与耗时
func ObserveModelCall(model string, duration time.Duration, err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if modelCallsTotal != nil {
		modelCallsTotal.WithLabelValues(model, result).Inc()
	}
	if modelCallLatency != nil {
		modelCallLatency.WithLabelValues(model).Observe(duration.Seconds())
	}
}

// SetTrackedDevices 设置当前缓冲区设备数
func SetTrackedDevices(n int) {
	if trackedDevices != nil {
		trackedDevices.Set(float64(n))
	}
}

// SetAlertLogSize 设置告警日志当前条数
func SetAlertLogSize(n int) {
	if alertLogSize != nil {
		alertLogSize.Set(float64(n))
	}
}

// IncThingSpeakPoll ThingSpeak 轮询计数
func IncThingSpeakPoll(err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if thingSpeakPolls != nil {
		thingSpeakPolls.WithLabelValues(result).Inc()
	}
}
