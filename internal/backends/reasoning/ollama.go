package reasoning

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

// DefaultModels is the model fallback chain tried in order per analysis.
var DefaultModels = []string{"foundation-sec-8b", "llama3.1:8b"}

// OllamaConfig configures the Ollama reasoning client.
type OllamaConfig struct {
	BaseURL string

	// Models overrides the default model fallback chain.
	Models []string

	Temperature float64
	MaxTokens   int
}

// Ollama is the HTTP adapter for a local Ollama reasoning backend.
type Ollama struct {
	baseURL     string
	models      []string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewOllama creates an Ollama reasoning client.
func NewOllama(cfg OllamaConfig) *Ollama {
	models := cfg.Models
	if len(models) == 0 {
		models = DefaultModels
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Ollama{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		models:      models,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{},
	}
}

// Name identifies this backend in verdicts, logs and metrics.
func (o *Ollama) Name() string { return triage.ComponentReasoning }

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Call runs one grounded analysis, walking the model fallback chain until a
// model produces a parseable assessment.
func (o *Ollama) Call(ctx context.Context, in triage.ReasoningInput) (*triage.ReasoningResult, error) {
	prompt := BuildPrompt(in)

	var lastErr error
	for _, model := range o.models {
		res, err := o.generate(ctx, prompt, model)
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

func (o *Ollama) generate(ctx context.Context, prompt, model string) (*triage.ReasoningResult, error) {
	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
		Options: generateOptions{
			Temperature: o.temperature,
			NumPredict:  o.maxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reasoning: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backends.StatusError(resp.StatusCode, respBody)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", backends.ErrBadResponse, err)
	}

	res, err := parseAnalysis(out.Response)
	if err != nil {
		return nil, err
	}
	res.Model = model
	res.TokensUsed = out.PromptEvalCount + out.EvalCount
	return res, nil
}

// Healthy probes the Ollama API root.
func (o *Ollama) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
