package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrScalerNotFitted scaler 参数缺失或不完整
	ErrScalerNotFitted = errors.New("scaler not fitted")
	// ErrShapeMismatch 输入列数与训练时不一致
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Scaler 训练时拟合的逐列变换（列顺序：temperature, humidity）
type Scaler interface {
	Transform(rows [][]float64) ([][]float64, error)
}

// MinMaxScaler 与 sklearn.preprocessing.MinMaxScaler 等价的线性变换
// X_scaled = (X - data_min) / (data_max - data_min) * (range_max - range_min) + range_min
type MinMaxScaler struct {
	DataMin      []float64  `json:"data_min"`
	DataMax      []float64  `json:"data_max"`
	FeatureRange [2]float64 `json:"feature_range"`
}

// LoadMinMaxScaler 从训练导出的 JSON 文件加载 scaler
func LoadMinMaxScaler(path string) (*MinMaxScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler file %s: %w", path, err)
	}

	var s MinMaxScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scaler: %w", err)
	}
	if s.FeatureRange == [2]float64{} {
		s.FeatureRange = [2]float64{0, 1}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate 校验 scaler 参数
func (s *MinMaxScaler) Validate() error {
	if len(s.DataMin) == 0 || len(s.DataMin) != len(s.DataMax) {
		return fmt.Errorf("%w: data_min has %d columns, data_max has %d", ErrScalerNotFitted, len(s.DataMin), len(s.DataMax))
	}
	if s.FeatureRange[0] >= s.FeatureRange[1] {
		return fmt.Errorf("%w: invalid feature_range %v", ErrScalerNotFitted, s.FeatureRange)
	}
	return nil
}

// Transform 逐行变换，返回新切片，不修改输入
func (s *MinMaxScaler) Transform(rows [][]float64) ([][]float64, error) {
	if s == nil {
		return nil, ErrScalerNotFitted
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	lo, hi := s.FeatureRange[0], s.FeatureRange[1]
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.DataMin) {
			return nil, fmt.Errorf("%w: row %d has %d columns, scaler expects %d", ErrShapeMismatch, i, len(row), len(s.DataMin))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			dataRange := s.DataMax[j] - s.DataMin[j]
			if dataRange == 0 {
				// 与 sklearn 一致：常数列的 scale 取 1
				dataRange = 1
			}
			scaled[j] = (v-s.DataMin[j])/dataRange*(hi-lo) + lo
		}
		out[i] = scaled
	}

	return out, nil
}
