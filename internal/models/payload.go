package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ReadingFromPayload 将设备上报的 JSON 对象转换为 Reading
// 兼容字段别名：device_id/device、temp/temperature、hum/humidity
// 缺失的 timestamp 使用 now；字段存在但无法解析为数值时返回错误
func ReadingFromPayload(payload map[string]interface{}, defaultDevice string, now time.Time) (Reading, error) {
	deviceID := defaultDevice
	for _, key := range []string{"device_id", "device"} {
		if v, ok := payload[key]; ok && v != nil {
			deviceID = fmt.Sprint(v)
			break
		}
	}
	if deviceID == "" {
		return Reading{}, fmt.Errorf("missing device_id")
	}

	ts, err := parseTimestamp(payload["timestamp"], now)
	if err != nil {
		return Reading{}, err
	}

	fields := map[string][]string{
		"lat":    {"lat", "latitude"},
		"lon":    {"lon", "longitude"},
		"temp":   {"temp", "temperature"},
		"hum":    {"hum", "humidity"},
		"weight": {"weight"},
	}
	values := make(map[string]*float64, len(fields))
	for name, aliases := range fields {
		for _, alias := range aliases {
			raw, ok := payload[alias]
			if !ok || raw == nil {
				continue
			}
			f, err := toFloat(raw)
			if err != nil {
				return Reading{}, fmt.Errorf("invalid %s: %w", alias, err)
			}
			if f == nil {
				// 空字符串：继续尝试下一个别名
				continue
			}
			if math.IsNaN(*f) || math.IsInf(*f, 0) {
				return Reading{}, fmt.Errorf("invalid %s: non-finite value", alias)
			}
			values[name] = f
			break
		}
	}

	return NewReading(deviceID, ts, values["lat"], values["lon"], values["temp"], values["hum"], values["weight"]), nil
}

func parseTimestamp(raw interface{}, now time.Time) (float64, error) {
	nowSec := float64(now.UnixNano()) / float64(time.Second)
	switch v := raw.(type) {
	case nil:
		return nowSec, nil
	case string:
		if v == "" {
			return nowSec, nil
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", v, err)
		}
		return float64(t.UnixNano()) / float64(time.Second), nil
	default:
		f, err := toFloat(v)
		if err != nil || f == nil {
			return 0, fmt.Errorf("invalid timestamp: %v", raw)
		}
		return *f, nil
	}
}

// toFloat 支持 JSON 数值、json.Number 和数字字符串（ThingSpeak 字段以字符串返回）
// 空字符串视为缺失
func toFloat(raw interface{}) (*float64, error) {
	switch v := raw.(type) {
	case float64:
		return &v, nil
	case float32:
		f := float64(v)
		return &f, nil
	case int:
		f := float64(v)
		return &f, nil
	case int64:
		f := float64(v)
		return &f, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return &f, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", raw)
	}
}

// DecodeReading 解析原始 JSON 上报（HTTP / MQTT / Stream 共用）
func DecodeReading(data []byte, defaultDevice string, now time.Time) (Reading, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return Reading{}, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	if payload == nil {
		return Reading{}, fmt.Errorf("empty reading payload")
	}
	return ReadingFromPayload(payload, defaultDevice, now)
}
