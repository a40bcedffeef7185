package geo

import (
	"math"
)

// EarthRadiusMeters 球面地球半径（米）
const EarthRadiusMeters = 6371000.0

// Waypoint 预期路线上的一个航点
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Reference 预期路线参考表（启动时加载一次，之后只读）
// 路线表规模小，直接线性扫描，不建空间索引
type Reference struct {
	waypoints []Waypoint
}

// NewReference 创建路线参考（复制输入，空路线合法）
func NewReference(waypoints []Waypoint) *Reference {
	return &Reference{
		waypoints: append([]Waypoint(nil), waypoints...),
	}
}

// Nearest 返回距离 (lat, lon) 最近的航点及其大圆距离（米）
// 路线为空时 ok=false；距离相同时取存储顺序中的第一个
func (r *Reference) Nearest(lat, lon float64) (Waypoint, float64, bool) {
	if r == nil || len(r.waypoints) == 0 {
		return Waypoint{}, 0, false
	}

	best := -1
	bestDist := math.Inf(1)
	for i, wp := range r.waypoints {
		d := HaversineMeters(lat, lon, wp.Lat, wp.Lon)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		// 输入为 NaN 时所有比较都为 false
		return Waypoint{}, 0, false
	}

	return r.waypoints[best], bestDist, true
}

// Len 航点数量
func (r *Reference) Len() int {
	if r == nil {
		return 0
	}
	return len(r.waypoints)
}

// HaversineMeters 两点间大圆距离（米）
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
