package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	ClassifierURL       string
	ClassifierTimeoutMs int
	ClassifierModels    string

	RetrievalURL        string
	RetrievalTimeoutMs  int
	RetrievalCollection string
	RetrievalTopK       int
	MinSimilarity       float64

	ReasoningProvider  string
	OllamaURL          string
	OllamaModels       string
	ClaudeAPIKey       string
	ClaudeModel        string
	Temperature        float64
	MaxTokens          int
	ReasoningTimeoutMs int

	OverallDeadlineMs int
	MaxConcurrent     int
	HighRiskThreshold int

	WeightClassifier float64
	WeightRetrieval  float64
	WeightSeverity   float64

	DatabaseURL string

	KafkaBrokers string
	KafkaTopic   string

	TheHiveURL           string
	TheHiveAPIKey        string
	TheHiveCaseThreshold int

	QueueDepth int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")

	fs.StringVar(&c.ClassifierURL, "classifier-url", "http://localhost:8500", "base URL of the ML classifier service")
	fs.IntVar(&c.ClassifierTimeoutMs, "classifier-timeout-ms", 10000, "per-call budget for the classifier backend in ms")
	fs.StringVar(&c.ClassifierModels, "classifier-models", "", "comma-separated model fallback chain (empty = service default)")

	fs.StringVar(&c.RetrievalURL, "retrieval-url", "http://localhost:8600", "base URL of the knowledge-base retrieval service")
	fs.IntVar(&c.RetrievalTimeoutMs, "retrieval-timeout-ms", 10000, "per-call budget for the retrieval backend in ms")
	fs.StringVar(&c.RetrievalCollection, "retrieval-collection", "mitre_attack", "knowledge-base collection to query")
	fs.IntVar(&c.RetrievalTopK, "retrieval-top-k", 3, "number of knowledge-base hits to request (1..20)")
	fs.Float64Var(&c.MinSimilarity, "min-similarity", 0.7, "similarity floor for retrieved context (0..1)")

	fs.StringVar(&c.ReasoningProvider, "reasoning-provider", "ollama", "generative reasoning provider: ollama or claude")
	fs.StringVar(&c.OllamaURL, "ollama-url", "http://localhost:11434", "base URL of the Ollama API")
	fs.StringVar(&c.OllamaModels, "ollama-models", "foundation-sec-8b,llama3.1:8b", "comma-separated Ollama model fallback chain")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude reasoning provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model to use")
	fs.Float64Var(&c.Temperature, "temperature", 0.1, "sampling temperature for reasoning (0..1)")
	fs.IntVar(&c.MaxTokens, "max-tokens", 2048, "max tokens per reasoning response")
	fs.IntVar(&c.ReasoningTimeoutMs, "reasoning-timeout-ms", 60000, "per-call budget for the reasoning backend in ms")

	fs.IntVar(&c.OverallDeadlineMs, "overall-deadline-ms", 90000, "total budget for one triage orchestration in ms")
	fs.IntVar(&c.MaxConcurrent, "max-concurrent", 10, "max simultaneous backend fan-outs (1..256)")
	fs.IntVar(&c.HighRiskThreshold, "high-risk-threshold", 70, "risk score at which an unclassified alert is framed as an attack (1..100)")

	fs.Float64Var(&c.WeightClassifier, "weight-classifier", 0.4, "nominal weight of the classifier confidence term (0..1)")
	fs.Float64Var(&c.WeightRetrieval, "weight-retrieval", 0.3, "nominal weight of the retrieval similarity term (0..1)")
	fs.Float64Var(&c.WeightSeverity, "weight-severity", 0.3, "nominal weight of the rule severity term (0..1)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")

	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for verdict events (empty = disabled)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "aegis.verdicts", "Kafka topic for verdict events")

	fs.StringVar(&c.TheHiveURL, "thehive-url", "", "TheHive base URL for case creation (empty = disabled)")
	fs.StringVar(&c.TheHiveAPIKey, "thehive-api-key", "", "TheHive API key")
	fs.IntVar(&c.TheHiveCaseThreshold, "thehive-case-threshold", 70, "minimum risk score that opens a TheHive case (0..100)")

	fs.IntVar(&c.QueueDepth, "queue-depth", 256, "bounded verdict delivery queue depth (1..65536)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClassifierURL == "" {
		errs = append(errs, errors.New("CLASSIFIER_URL is required"))
	}
	if c.ClassifierTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFIER_TIMEOUT_MS %d (must be > 0)", c.ClassifierTimeoutMs))
	}

	if c.RetrievalURL == "" {
		errs = append(errs, errors.New("RETRIEVAL_URL is required"))
	}
	if c.RetrievalTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_TIMEOUT_MS %d (must be > 0)", c.RetrievalTimeoutMs))
	}
	if c.RetrievalTopK <= 0 || c.RetrievalTopK > 20 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_TOP_K %d (must be 1..20)", c.RetrievalTopK))
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("invalid MIN_SIMILARITY %v (must be 0..1)", c.MinSimilarity))
	}

	switch c.ReasoningProvider {
	case "ollama":
		if c.OllamaURL == "" {
			errs = append(errs, errors.New("OLLAMA_URL is required for the ollama provider"))
		}
	case "claude":
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the claude provider"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for the claude provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid REASONING_PROVIDER %q (must be ollama or claude)", c.ReasoningProvider))
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		errs = append(errs, fmt.Errorf("invalid TEMPERATURE %v (must be 0..1)", c.Temperature))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_TOKENS %d (must be > 0)", c.MaxTokens))
	}
	if c.ReasoningTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("invalid REASONING_TIMEOUT_MS %d (must be > 0)", c.ReasoningTimeoutMs))
	}

	if c.OverallDeadlineMs <= 0 {
		errs = append(errs, fmt.Errorf("invalid OVERALL_DEADLINE_MS %d (must be > 0)", c.OverallDeadlineMs))
	}
	if c.MaxConcurrent <= 0 || c.MaxConcurrent > 256 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENT %d (must be 1..256)", c.MaxConcurrent))
	}
	if c.HighRiskThreshold <= 0 || c.HighRiskThreshold > 100 {
		errs = append(errs, fmt.Errorf("invalid HIGH_RISK_THRESHOLD %d (must be 1..100)", c.HighRiskThreshold))
	}

	for _, w := range []struct {
		name  string
		value float64
	}{
		{"WEIGHT_CLASSIFIER", c.WeightClassifier},
		{"WEIGHT_RETRIEVAL", c.WeightRetrieval},
		{"WEIGHT_SEVERITY", c.WeightSeverity},
	} {
		if w.value < 0 || w.value > 1 {
			errs = append(errs, fmt.Errorf("invalid %s %v (must be 0..1)", w.name, w.value))
		}
	}
	if c.WeightClassifier+c.WeightRetrieval+c.WeightSeverity <= 0 {
		errs = append(errs, errors.New("score weights must not all be zero"))
	}

	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if c.TheHiveURL != "" && c.TheHiveAPIKey == "" {
		errs = append(errs, errors.New("THEHIVE_API_KEY is required when THEHIVE_URL is set"))
	}
	if c.TheHiveCaseThreshold < 0 || c.TheHiveCaseThreshold > 100 {
		errs = append(errs, fmt.Errorf("invalid THEHIVE_CASE_THRESHOLD %d (must be 0..100)", c.TheHiveCaseThreshold))
	}

	if c.QueueDepth <= 0 || c.QueueDepth > 65536 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_DEPTH %d (must be 1..65536)", c.QueueDepth))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SplitList parses a comma-separated flag value into its non-empty elements.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
