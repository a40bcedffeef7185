package models

// Reading 设备上报的单条传感器读数
// 构造后不可变：所有可选字段通过 NewReading 复制，外部持有的指针不会与缓冲区共享
type Reading struct {
	DeviceID    string   `json:"device_id"`
	Timestamp   float64  `json:"timestamp"` // epoch 秒
	Latitude    *float64 `json:"lat,omitempty"`
	Longitude   *float64 `json:"lon,omitempty"`
	Temperature *float64 `json:"temp,omitempty"`
	Humidity    *float64 `json:"hum,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
}

// NewReading 创建读数（复制所有可选值）
func NewReading(deviceID string, ts float64, lat, lon, temp, hum, weight *float64) Reading {
	return Reading{
		DeviceID:    deviceID,
		Timestamp:   ts,
		Latitude:    copyFloat(lat),
		Longitude:   copyFloat(lon),
		Temperature: copyFloat(temp),
		Humidity:    copyFloat(hum),
		Weight:      copyFloat(weight),
	}
}

// HasEnvironment 温度和湿度是否都存在
func (r Reading) HasEnvironment() bool {
	return r.Temperature != nil && r.Humidity != nil
}

// HasPosition 经纬度是否都存在
func (r Reading) HasPosition() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Float64Ptr 返回 v 的指针
func Float64Ptr(v float64) *float64 {
	return &v
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
