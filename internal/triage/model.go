package triage

import (
	"time"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/backends"
)

// Status tracks where an orchestration is in its lifecycle.
type Status string

const (
	// StatusPending means accepted, not yet dispatched
	StatusPending Status = "pending"

	// StatusInFlight means the backend fan-out is running
	StatusInFlight Status = "in_flight"

	// StatusCompleted means all contributing backends answered
	StatusCompleted Status = "completed"

	// StatusDegraded means the verdict was produced with one or more
	// backends missing
	StatusDegraded Status = "degraded"

	// StatusFailed means the orchestration could not produce a verdict
	StatusFailed Status = "failed"
)

// Label is the classifier ensemble's binary call on an alert.
type Label string

const (
	LabelBenign Label = "BENIGN"
	LabelAttack Label = "ATTACK"
)

// Component names as they appear in components_used, logs and metrics.
const (
	ComponentClassifier = "classifier"
	ComponentRetrieval  = "retrieval"
	ComponentReasoning  = "reasoning"
)

// ClassifierResult is the output of one classifier ensemble prediction.
// Immutable once returned.
type ClassifierResult struct {
	Label         Label              `json:"label"`
	Prediction    string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Model         string             `json:"model"`
	Latency       time.Duration      `json:"-"`
}

// RetrievedContext is one knowledge-base hit. Retrieval results are ordered
// by descending similarity.
type RetrievedContext struct {
	TechniqueID   string   `json:"technique_id"`
	TechniqueName string   `json:"technique_name"`
	Similarity    float64  `json:"similarity_score"`
	Tactics       []string `json:"tactics,omitempty"`
}

// ReasoningResult is the generative backend's grounded analysis of an alert.
type ReasoningResult struct {
	Summary            string   `json:"summary"`
	RecommendedActions []string `json:"recommended_actions"`
	TechniqueIDs       []string `json:"mitre_techniques"`
	Model              string   `json:"model"`
	TokensUsed         int      `json:"tokens_used"`
}

// RetrievalQuery is the input to the retrieval backend.
type RetrievalQuery struct {
	Text          string
	TopK          int
	MinSimilarity float64
}

// ReasoningInput carries the alert plus whatever partial context the first
// fan-out stage produced. Classifier and Contexts are each individually
// optional.
type ReasoningInput struct {
	Alert       *alert.Alert
	Description string
	Classifier  *ClassifierResult
	Contexts    []RetrievedContext
}

// The three backends behind the uniform call contract.
type (
	ClassifierBackend = backends.Call[[]float64, *ClassifierResult]
	RetrievalBackend  = backends.Call[RetrievalQuery, []RetrievedContext]
	ReasoningBackend  = backends.Call[ReasoningInput, *ReasoningResult]
)

// TechniqueRef is one MITRE technique attached to a verdict, tagged with the
// signal that produced it.
type TechniqueRef struct {
	ID      string   `json:"technique_id"`
	Name    string   `json:"technique_name,omitempty"`
	Tactics []string `json:"tactics,omitempty"`
	Source  string   `json:"source"`
	Score   float64  `json:"score,omitempty"`
}

// MLPrediction is the classifier summary embedded in the verdict payload.
type MLPrediction struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Verdict is the terminal output of one triage orchestration. The core never
// mutates or re-derives a verdict after it is constructed; re-analysis is a
// fresh orchestration.
type Verdict struct {
	ID                 string         `json:"id"`
	AlertID            string         `json:"alert_id"`
	Status             Status         `json:"status"`
	RiskScore          int            `json:"risk_score"`
	Classification     string         `json:"classification"`
	MitreTechniques    []TechniqueRef `json:"mitre_techniques"`
	RecommendedActions []string       `json:"recommended_actions"`
	Analysis           string         `json:"analysis,omitempty"`
	MLPrediction       *MLPrediction  `json:"ml_prediction,omitempty"`
	ComponentsUsed     []string       `json:"components_used"`
	Degraded           bool           `json:"degraded"`
	CreatedAt          time.Time      `json:"created_at"`
	CompletedAt        time.Time      `json:"completed_at"`
	ProcessingTimeMs   int64          `json:"processing_time_ms"`
	TokensUsed         int            `json:"tokens_used,omitempty"`
}
