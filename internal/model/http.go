package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 模型以 TF-Serving 兼容的 REST 协议部署：
//   GET  {base}/v1/models/{name}           -> 模型状态
//   POST {base}/v1/models/{name}:predict   -> {"instances": [...]} / {"predictions": [...]}

const modelStateAvailable = "AVAILABLE"

type predictRequest struct {
	Instances any `json:"instances"`
}

type reconstructionResponse struct {
	Predictions [][][]float64 `json:"predictions"`
	Error       string        `json:"error,omitempty"`
}

type outlierPredictionJSON struct {
	Label         int     `json:"label"`
	DecisionScore float64 `json:"decision_score"`
}

type outlierResponse struct {
	Predictions []outlierPredictionJSON `json:"predictions"`
	Error       string                  `json:"error,omitempty"`
}

type modelStatusResponse struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

// servingClient 单个模型的 REST 客户端
type servingClient struct {
	httpClient *resty.Client
	name       string
	logger     *zap.Logger
}

func newServingClient(baseURL, name string, timeout time.Duration, logger *zap.Logger) servingClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return servingClient{
		httpClient: client,
		name:       name,
		logger:     logger,
	}
}

// CheckAvailable 确认模型已加载；启动时调用，失败即退出
func (c servingClient) CheckAvailable(ctx context.Context) error {
	var status modelStatusResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("name", c.name).
		SetResult(&status).
		ForceContentType("application/json").
		Get("/v1/models/{name}")
	if err != nil {
		return fmt.Errorf("%w: failed to query model %s: %v", ErrModelUnavailable, c.name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: model %s status %d", ErrModelUnavailable, c.name, resp.StatusCode())
	}

	for _, v := range status.ModelVersionStatus {
		if v.State == modelStateAvailable {
			c.logger.Info("Model available",
				zap.String("model", c.name),
				zap.String("version", v.Version),
			)
			return nil
		}
	}
	return fmt.Errorf("%w: model %s has no available version", ErrModelUnavailable, c.name)
}

func (c servingClient) predict(ctx context.Context, instances any, result any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("name", c.name).
		SetBody(predictRequest{Instances: instances}).
		SetResult(result).
		ForceContentType("application/json").
		Post("/v1/models/{name}:predict")
	if err != nil {
		return fmt.Errorf("failed to call model %s: %w", c.name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("model %s returned status %d: %s", c.name, resp.StatusCode(), resp.String())
	}
	return nil
}

// HTTPReconstructionModel 通过 REST 调用的序列重构模型
type HTTPReconstructionModel struct {
	servingClient
}

// NewHTTPReconstructionModel 创建重构模型客户端
func NewHTTPReconstructionModel(baseURL, name string, timeout time.Duration, logger *zap.Logger) *HTTPReconstructionModel {
	return &HTTPReconstructionModel{servingClient: newServingClient(baseURL, name, timeout, logger)}
}

// Reconstruct 实现 ReconstructionModel，批大小固定为 1
func (m *HTTPReconstructionModel) Reconstruct(ctx context.Context, sequence [][]float64) ([][]float64, error) {
	var out reconstructionResponse
	if err := m.predict(ctx, [][][]float64{sequence}, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("model %s error: %s", m.name, out.Error)
	}
	if len(out.Predictions) != 1 {
		return nil, fmt.Errorf("%w: expected 1 prediction, got %d", ErrMalformedOutput, len(out.Predictions))
	}
	return out.Predictions[0], nil
}

// HTTPOutlierModel 通过 REST 调用的离群检测模型（IsolationForest 旁车）
// label: 1 正常 / -1 离群；decision_score 越负越异常
type HTTPOutlierModel struct {
	servingClient
}

// NewHTTPOutlierModel 创建离群模型客户端
func NewHTTPOutlierModel(baseURL, name string, timeout time.Duration, logger *zap.Logger) *HTTPOutlierModel {
	return &HTTPOutlierModel{servingClient: newServingClient(baseURL, name, timeout, logger)}
}

// Predict 实现 OutlierModel
func (m *HTTPOutlierModel) Predict(ctx context.Context, vector []float64) (Label, float64, error) {
	var out outlierResponse
	if err := m.predict(ctx, [][]float64{vector}, &out); err != nil {
		return "", 0, err
	}
	if out.Error != "" {
		return "", 0, fmt.Errorf("model %s error: %s", m.name, out.Error)
	}
	if len(out.Predictions) != 1 {
		return "", 0, fmt.Errorf("%w: expected 1 prediction, got %d", ErrMalformedOutput, len(out.Predictions))
	}

	p := out.Predictions[0]
	switch p.Label {
	case 1:
		return LabelNormal, p.DecisionScore, nil
	case -1:
		return LabelOutlier, p.DecisionScore, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown label %d", ErrMalformedOutput, p.Label)
	}
}
