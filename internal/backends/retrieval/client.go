// Package retrieval calls the knowledge-base service that matches alert
// descriptions against an ATT&CK technique corpus by vector similarity.
package retrieval

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

const (
	healthTimeout     = 2 * time.Second
	defaultCollection = "mitre_attack"
)

// Config configures the retrieval client.
type Config struct {
	BaseURL string

	// Collection is the knowledge-base collection queried. Defaults to the
	// ATT&CK technique corpus.
	Collection string
}

// Client is the HTTP adapter for the retrieval backend.
type Client struct {
	baseURL    string
	collection string
	client     *http.Client
}

// New creates a retrieval client.
func New(cfg Config) *Client {
	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		collection: collection,
		client:     &http.Client{},
	}
}

// Name identifies this backend in verdicts, logs and metrics.
func (c *Client) Name() string { return triage.ComponentRetrieval }

type retrieveRequest struct {
	Query         string  `json:"query"`
	Collection    string  `json:"collection"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
}

type retrieveResponse struct {
	Results []struct {
		Document        string         `json:"document"`
		Metadata        map[string]any `json:"metadata"`
		SimilarityScore float64        `json:"similarity_score"`
	} `json:"results"`
	TotalResults int `json:"total_results"`
}

// Call queries the knowledge base. Zero hits is a successful answer, not an
// error: it means nothing in the corpus resembles this alert.
func (c *Client) Call(ctx context.Context, q triage.RetrievalQuery) ([]triage.RetrievedContext, error) {
	body, err := json.Marshal(retrieveRequest{
		Query:         q.Text,
		Collection:    c.collection,
		TopK:          q.TopK,
		MinSimilarity: q.MinSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/retrieve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("retrieval: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, backends.Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, backends.Classify(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backends.StatusError(resp.StatusCode, respBody)
	}

	var out retrieveResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", backends.ErrBadResponse, err)
	}

	contexts := make([]triage.RetrievedContext, 0, len(out.Results))
	for _, r := range out.Results {
		if r.SimilarityScore < 0 || r.SimilarityScore > 1 {
			return nil, fmt.Errorf("%w: similarity %v out of range", backends.ErrBadResponse, r.SimilarityScore)
		}
		contexts = append(contexts, triage.RetrievedContext{
			TechniqueID:   metaString(r.Metadata, "technique_id"),
			TechniqueName: metaString(r.Metadata, "technique_name"),
			Similarity:    r.SimilarityScore,
			Tactics:       metaStrings(r.Metadata, "tactics"),
		})
	}
	return contexts, nil
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

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// metaStrings reads a metadata field that arrives either as a JSON array or
// as a comma-joined string, depending on how the corpus was indexed.
func metaStrings(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
