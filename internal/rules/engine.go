package rules

import (
	"github.com/Sarang2401/Precursor-Main/internal/geo"
	"github.com/Sarang2401/Precursor-Main/internal/models"
)

// Thresholds 规则阈值
type Thresholds struct {
	TempMin         float64
	TempMax         float64
	HumMin          float64
	HumMax          float64
	RouteToleranceM float64
}

// Engine 规则引擎（无状态，只依赖读数和路线参考）
type Engine struct {
	thresholds Thresholds
	route      *geo.Reference
}

// NewEngine 创建规则引擎；route 为 nil 或为空时路线检查永不触发
func NewEngine(thresholds Thresholds, route *geo.Reference) *Engine {
	return &Engine{
		thresholds: thresholds,
		route:      route,
	}
}

// Evaluate 评估单条读数，返回按固定顺序（传感器 → 环境 → 路线）排列的命中列表
func (e *Engine) Evaluate(r models.Reading) []models.RuleHit {
	var hits []models.RuleHit

	// 1. 传感器故障 / 环境范围
	if !r.HasEnvironment() {
		hits = append(hits, models.RuleHit{
			Kind:   models.CategorySensorFailure,
			Detail: models.DetailMissingTempOrHum,
		})
	} else {
		temp, hum := *r.Temperature, *r.Humidity
		if temp < e.thresholds.TempMin || temp > e.thresholds.TempMax {
			hits = append(hits, models.RuleHit{
				Kind:   models.CategoryEnvironmentAnomaly,
				Detail: models.DetailTempOutOfRange,
				Value:  models.Float64Ptr(temp),
			})
		}
		if hum < e.thresholds.HumMin || hum > e.thresholds.HumMax {
			hits = append(hits, models.RuleHit{
				Kind:   models.CategoryEnvironmentAnomaly,
				Detail: models.DetailHumOutOfRange,
				Value:  models.Float64Ptr(hum),
			})
		}
	}

	// 2. 路线偏离
	if r.HasPosition() {
		if _, dist, ok := e.route.Nearest(*r.Latitude, *r.Longitude); ok && dist > e.thresholds.RouteToleranceM {
			hits = append(hits, models.RuleHit{
				Kind:   models.CategoryRouteDeviation,
				Detail: models.DetailDistanceM,
				Value:  models.Float64Ptr(dist),
			})
		}
	}

	return hits
}
