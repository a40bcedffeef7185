package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPReconstructionModel_Reconstruct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/models/lstm:predict", r.URL.Path)

		var req struct {
			Instances [][][]float64 `json:"instances"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instances, 1)

		// 回显输入
		_ = json.NewEncoder(w).Encode(map[string]any{"predictions": req.Instances})
	}))
	defer server.Close()

	m := NewHTTPReconstructionModel(server.URL, "lstm", time.Second, zap.NewNop())
	out, err := m.Reconstruct(context.Background(), [][]float64{{0.1, 0.2}, {0.3, 0.4}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, out)
}

func TestHTTPReconstructionModel_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"oom"}`))
	}))
	defer server.Close()

	m := NewHTTPReconstructionModel(server.URL, "lstm", time.Second, zap.NewNop())
	_, err := m.Reconstruct(context.Background(), [][]float64{{0.1, 0.2}})
	assert.Error(t, err)
}

func TestHTTPOutlierModel_Predict(t *testing.T) {
	var label atomic.Int64
	label.Store(1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models/iforest:predict", r.URL.Path)

		var req struct {
			Instances [][]float64 `json:"instances"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instances, 1)
		assert.Len(t, req.Instances[0], 6)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{{"label": label.Load(), "decision_score": -0.05}},
		})
	}))
	defer server.Close()

	m := NewHTTPOutlierModel(server.URL+"/", "iforest", time.Second, zap.NewNop())

	got, score, err := m.Predict(context.Background(), []float64{22, 0.1, 0, 50, 0.2, 0})
	require.NoError(t, err)
	assert.Equal(t, LabelNormal, got)
	assert.Equal(t, -0.05, score)

	label.Store(-1)
	got, _, err = m.Predict(context.Background(), []float64{22, 0.1, 0, 50, 0.2, 0})
	require.NoError(t, err)
	assert.Equal(t, LabelOutlier, got)

	label.Store(7)
	_, _, err = m.Predict(context.Background(), []float64{22, 0.1, 0, 50, 0.2, 0})
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestServingClient_CheckAvailable(t *testing.T) {
	var state atomic.Value
	state.Store("AVAILABLE")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/lstm" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model_version_status":[{"version":"1","state":"` + state.Load().(string) + `"}]}`))
	}))
	defer server.Close()

	m := NewHTTPReconstructionModel(server.URL, "lstm", time.Second, zap.NewNop())
	assert.NoError(t, m.CheckAvailable(context.Background()))

	state.Store("LOADING")
	assert.ErrorIs(t, m.CheckAvailable(context.Background()), ErrModelUnavailable)

	missing := NewHTTPReconstructionModel(server.URL, "other", time.Second, zap.NewNop())
	assert.ErrorIs(t, missing.CheckAvailable(context.Background()), ErrModelUnavailable)
}
