package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Model predicts a probability vector over the labels for each padded
// sequence, indexed in review.Labels order.
type Model interface {
	Predict(ctx context.Context, inputs [][]int) ([][]float64, error)
}

// ServingModel is a Model served over a TensorFlow Serving style REST API.
type ServingModel struct {
	Endpoint  string // e.g. http://localhost:8501/v1/models/sentiment
	BatchSize int
	client    *resty.Client
}

// NewServingModel creates a client for the model at endpoint.
func NewServingModel(endpoint string, batchSize int, timeout time.Duration) *ServingModel {
	if batchSize < 1 {
		batchSize = 64
	}
	return &ServingModel{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		BatchSize: batchSize,
		client:    resty.New().SetTimeout(timeout),
	}
}

// Check verifies the model is loaded and has an available version.
func (m *ServingModel) Check(ctx context.Context) error {
	var status struct {
		Versions []struct {
			Version string `json:"version"`
			State   string `json:"state"`
		} `json:"model_version_status"`
	}
	resp, err := m.client.R().
		SetContext(ctx).
		SetResult(&status).
		ForceContentType("application/json").
		Get(m.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: model endpoint: %w", ErrModelLoad, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: model endpoint returned %d: %s", ErrModelLoad, resp.StatusCode(), resp.String())
	}
	if len(status.Versions) == 0 {
		return nil
	}
	for _, v := range status.Versions {
		if v.State == "AVAILABLE" {
			return nil
		}
	}
	return fmt.Errorf("%w: no available model version at %s", ErrModelLoad, m.Endpoint)
}

// Predict sends inputs in batches of BatchSize and concatenates the results.
func (m *ServingModel) Predict(ctx context.Context, inputs [][]int) ([][]float64, error) {
	out := make([][]float64, 0, len(inputs))
	for start := 0; start < len(inputs); start += m.BatchSize {
		end := min(start+m.BatchSize, len(inputs))
		preds, err := m.predictBatch(ctx, inputs[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, preds...)
	}
	return out, nil
}

func (m *ServingModel) predictBatch(ctx context.Context, batch [][]int) ([][]float64, error) {
	var result struct {
		Predictions [][]float64 `json:"predictions"`
	}
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"instances": batch}).
		SetResult(&result).
		ForceContentType("application/json").
		Post(m.Endpoint + ":predict")
	if err != nil {
		return nil, fmt.Errorf("predict request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("predict returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Predictions) != len(batch) {
		return nil, fmt.Errorf("expected %d predictions, got %d", len(batch), len(result.Predictions))
	}
	return result.Predictions, nil
}
