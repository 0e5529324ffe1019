// Package thehive opens TheHive cases for high-risk verdicts.
package thehive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/triage"
)

const httpTimeout = 10 * time.Second

// Config configures the TheHive case sink.
type Config struct {
	BaseURL string
	APIKey  string

	// CaseThreshold is the minimum risk score that opens a case.
	CaseThreshold int
}

// Sink creates one TheHive case per verdict at or above the threshold.
type Sink struct {
	baseURL   string
	apiKey    string
	threshold int
	client    *http.Client
	logger    log.Logger
}

// New creates a TheHive sink.
func New(cfg Config, logger log.Logger) *Sink {
	return &Sink{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		threshold: cfg.CaseThreshold,
		client:    &http.Client{Timeout: httpTimeout},
		logger:    logger,
	}
}

// Name identifies this sink in logs and metrics.
func (s *Sink) Name() string { return "thehive" }

// Deliver opens a case for the verdict. Verdicts below the case threshold
// are acknowledged without any API call.
func (s *Sink) Deliver(ctx context.Context, v *triage.Verdict) error {
	if v.RiskScore < s.threshold {
		return nil
	}

	body, err := json.Marshal(buildCase(v))
	if err != nil {
		return fmt.Errorf("thehive: marshal case: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/case", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("thehive: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("thehive: post case: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("thehive: case creation returned %d: %s", resp.StatusCode, string(respBody))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.ID != "" {
		s.logger.Info(ctx, "opened case", "case_id", created.ID, "verdict_id", v.ID, "alert_id", v.AlertID)
	}
	return nil
}

// caseSeverity maps the 0..100 risk score onto TheHive's 1..4 scale.
func caseSeverity(riskScore int) int {
	switch {
	case riskScore >= 90:
		return 4 // critical
	case riskScore >= 70:
		return 3 // high
	case riskScore >= 40:
		return 2 // medium
	default:
		return 1 // low
	}
}

func buildCase(v *triage.Verdict) map[string]any {
	var desc strings.Builder
	fmt.Fprintf(&desc, "**Alert ID:** %s\n", v.AlertID)
	fmt.Fprintf(&desc, "**Risk Score:** %d\n", v.RiskScore)
	fmt.Fprintf(&desc, "**Classification:** %s\n", v.Classification)
	if v.MLPrediction != nil {
		fmt.Fprintf(&desc, "**ML Prediction:** %s (%.2f)\n", v.MLPrediction.Label, v.MLPrediction.Confidence)
	}

	desc.WriteString("\n**Analysis:**\n")
	if v.Analysis != "" {
		desc.WriteString(v.Analysis)
	} else {
		desc.WriteString("No analysis available")
	}
	desc.WriteString("\n")

	if len(v.RecommendedActions) > 0 {
		desc.WriteString("\n**Recommendations:**\n")
		for _, a := range v.RecommendedActions {
			fmt.Fprintf(&desc, "- %s\n", a)
		}
	}

	tags := []string{"automated", "aegis"}
	if v.Degraded {
		tags = append(tags, "degraded")
	}
	techniques := make([]string, 0, len(v.MitreTechniques))
	for _, t := range v.MitreTechniques {
		tags = append(tags, t.ID)
		techniques = append(techniques, t.ID)
	}

	return map[string]any{
		"title":       fmt.Sprintf("[%s] alert %s", v.Classification, v.AlertID),
		"description": desc.String(),
		"severity":    caseSeverity(v.RiskScore),
		"tags":        tags,
		"tlp":         2, // TLP:AMBER
		"pap":         2, // PAP:AMBER
		"customFields": map[string]any{
			"alertId":         v.AlertID,
			"verdictId":       v.ID,
			"riskScore":       v.RiskScore,
			"mitreTechniques": techniques,
		},
	}
}
