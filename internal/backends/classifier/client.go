// Package classifier calls the ML inference service that scores alert
// feature vectors with an ensemble of tree models.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/aegis/internal/backends"
	"github.com/linnemanlabs/aegis/internal/triage"
)

const healthTimeout = 2 * time.Second

// DefaultModels is the fallback chain tried in order per prediction.
var DefaultModels = []string{"random_forest", "xgboost", "decision_tree"}

// Config configures the classifier client.
type Config struct {
	BaseURL string

	// Models overrides the default model fallback chain.
	Models []string
}

// Client is the HTTP adapter for the classifier backend. Per-call deadlines
// come from the caller's context.
type Client struct {
	baseURL string
	models  []string
	client  *http.Client
}

// New creates a classifier client.
func New(cfg Config) *Client {
	models := cfg.Models
	if len(models) == 0 {
		models = DefaultModels
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		models:  models,
		client:  &http.Client{},
	}
}

// Name identifies this backend in verdicts, logs and metrics.
func (c *Client) Name() string { return triage.ComponentClassifier }

type predictRequest struct {
	Features  []float64 `json:"features"`
	ModelName string    `json:"model_name"`
}

type predictResponse struct {
	Prediction      string             `json:"prediction"`
	Confidence      float64            `json:"confidence"`
	Probabilities   map[string]float64 `json:"probabilities"`
	ModelUsed       string             `json:"model_used"`
	InferenceTimeMs float64            `json:"inference_time_ms"`
}

// Call runs one prediction, walking the model fallback chain until a model
// answers. The features slice is never mutated.
func (c *Client) Call(ctx context.Context, features []float64) (*triage.ClassifierResult, error) {
	var lastErr error
	for _, model := range c.models {
		res, err := c.predict(ctx, features, model)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, backends.Classify(lastErr)
}

func (c *Client) predict(ctx context.Context, features []float64, model string) (*triage.ClassifierResult, error) {
	body, err := json.Marshal(predictRequest{Features: features, ModelName: model})
	if err != nil {
		return nil, fmt.Errorf("classifier: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classifier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backends.StatusError(resp.StatusCode, respBody)
	}

	var out predictResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", backends.ErrBadResponse, err)
	}
	if out.Prediction == "" {
		return nil, fmt.Errorf("%w: empty prediction", backends.ErrBadResponse)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", backends.ErrBadResponse, out.Confidence)
	}

	label := triage.LabelAttack
	if strings.EqualFold(out.Prediction, string(triage.LabelBenign)) {
		label = triage.LabelBenign
	}

	modelUsed := out.ModelUsed
	if modelUsed == "" {
		modelUsed = model
	}
	return &triage.ClassifierResult{
		Label:         label,
		Prediction:    out.Prediction,
		Confidence:    out.Confidence,
		Probabilities: out.Probabilities,
		Model:         modelUsed,
		Latency:       time.Since(start),
	}, nil
}

// Healthy probes the service's health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
