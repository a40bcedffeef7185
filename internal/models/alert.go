package models

import (
	"time"
)

// RiskTier 风险等级
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Category 报警类别（一个读数可同时属于多个类别）
type Category string

const (
	CategorySensorFailure      Category = "sensor_failure"
	CategoryEnvironmentAnomaly Category = "environment_anomaly"
	CategoryRouteDeviation     Category = "route_deviation"
	CategorySuspicious         Category = "suspicious_behavior"
	CategoryNone               Category = "none"
)

// 规则命中的 detail
const (
	DetailMissingTempOrHum = "missing_temp_or_hum"
	DetailTempOutOfRange   = "temp_out_of_range"
	DetailHumOutOfRange    = "hum_out_of_range"
	DetailDistanceM        = "distance_m"
)

// RuleHit 单条规则命中
type RuleHit struct {
	Kind   Category `json:"type"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

// Alert 报警记录（仅由 ReadingProcessor 创建，写入 AlertStore 后不可变）
type Alert struct {
	AlertID   string    `json:"alert_id"`
	CreatedAt time.Time `json:"created_at"`

	DeviceID    string   `json:"device"`
	Timestamp   float64  `json:"ts"`
	Latitude    *float64 `json:"lat"`
	Longitude   *float64 `json:"lon"`
	Temperature *float64 `json:"temp"`
	Humidity    *float64 `json:"hum"`
	Weight      *float64 `json:"weight"`

	RuleHits            []RuleHit  `json:"alerts"`
	OutlierFlag         bool       `json:"if_anomaly"`
	OutlierScore        float64    `json:"if_score"`
	ReconstructionError float64    `json:"lstm_error"`
	ReconstructionNorm  float64    `json:"lstm_norm"`
	EnsembleScore       float64    `json:"ensemble_score"`
	RiskTier            RiskTier   `json:"risk"`
	Categories          []Category `json:"categories"`

	// Degraded 至少一条检测路径未能完成评估（模型失败/超时、scaler 回退等）
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}

// Clone 深拷贝（AlertStore 对外只返回副本）
func (a Alert) Clone() Alert {
	c := a
	c.Latitude = copyFloat(a.Latitude)
	c.Longitude = copyFloat(a.Longitude)
	c.Temperature = copyFloat(a.Temperature)
	c.Humidity = copyFloat(a.Humidity)
	c.Weight = copyFloat(a.Weight)
	if a.RuleHits != nil {
		c.RuleHits = make([]RuleHit, len(a.RuleHits))
		for i, h := range a.RuleHits {
			c.RuleHits[i] = RuleHit{Kind: h.Kind, Detail: h.Detail, Value: copyFloat(h.Value)}
		}
	}
	if a.Categories != nil {
		c.Categories = append([]Category(nil), a.Categories...)
	}
	if a.Warnings != nil {
		c.Warnings = append([]string(nil), a.Warnings...)
	}
	return c
}

// HasCategory 是否包含某类别
func (a Alert) HasCategory(cat Category) bool {
	for _, c := range a.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// ResultSummary 单条读数的处理结果（无论是否写入报警都会返回）
type ResultSummary struct {
	RuleHits            []RuleHit  `json:"alerts"`
	OutlierFlag         bool       `json:"if_anomaly"`
	OutlierScore        float64    `json:"if_score"`
	ReconstructionError float64    `json:"lstm_error"`
	ReconstructionNorm  float64    `json:"lstm_norm"`
	ReconstructionFlag  bool       `json:"lstm_flag"`
	EnsembleScore       float64    `json:"ensemble_score"`
	RiskTier            RiskTier   `json:"risk"`
	Categories          []Category `json:"categories"`
	AlertLogged         bool       `json:"alert_logged"`
	AlertID             string     `json:"alert_id,omitempty"`

	// BufferSize 本次追加后该设备缓冲区长度
	BufferSize int `json:"buffer_size"`
	// OutlierEvaluated / ReconstructionEvaluated 对应路径是否真正得到了模型输出
	OutlierEvaluated        bool `json:"if_evaluated"`
	ReconstructionEvaluated bool `json:"lstm_evaluated"`

	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}
