package reasoning

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/aegis/internal/backends"
	"github.com/linnemanlabs/aegis/internal/triage"
)

// ClaudeConfig configures the hosted Claude reasoning provider.
type ClaudeConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// Claude runs the analysis prompt against the Claude API instead of a local
// Ollama instance. Same contract, different provider.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaude creates a Claude reasoning client.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Claude{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

// Name identifies this backend in verdicts, logs and metrics.
func (c *Claude) Name() string { return triage.ComponentReasoning }

// Call runs one grounded analysis.
func (c *Claude) Call(ctx context.Context, in triage.ReasoningInput) (*triage.ReasoningResult, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(in))),
		},
	})
	if err != nil {
		return nil, backends.Classify(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	res, err := parseAnalysis(text.String())
	if err != nil {
		return nil, err
	}
	res.Model = c.model
	res.TokensUsed = int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	return res, nil
}

// Healthy reports whether the provider is configured. The hosted API has no
// cheap liveness probe worth spending tokens on.
func (c *Claude) Healthy(context.Context) bool { return true }
