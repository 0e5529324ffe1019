package triage

import (
	"math"

	"github.com/linnemanlabs/aegis/internal/alert"
)

// Weights are the nominal contributions of the three risk-score terms.
type Weights struct {
	Classifier float64
	Retrieval  float64
	Severity   float64
}

// DefaultWeights returns the documented 0.4/0.3/0.3 split.
func DefaultWeights() Weights {
	return Weights{Classifier: 0.4, Retrieval: 0.3, Severity: 0.3}
}

// AggregatorConfig tunes the deterministic score aggregation.
type AggregatorConfig struct {
	Weights Weights

	// HighRiskThreshold is the risk score at or above which an alert with
	// no classifier signal is framed as a suspected attack.
	HighRiskThreshold int

	// MinSimilarity is the similarity floor for retrieved techniques to be
	// attached to the verdict.
	MinSimilarity float64
}

// Term availability bits. Severity is always available; classifier and
// retrieval are available only when their backend call succeeded. A backend
// that answered with no signal (BENIGN, or zero hits above threshold) is
// available with a zero-valued term, which is real evidence and keeps its
// nominal weight.
const (
	termClassifier = 1 << iota
	termRetrieval
	termSeverity
)

// Aggregator turns collected partial results into one verdict. Aggregate is
// a pure function: identical inputs produce identical verdicts.
type Aggregator struct {
	cfg   AggregatorConfig
	table [8]Weights
}

// NewAggregator builds an aggregator, precomputing the availability-mask
// weight table so the renormalization rules are inspectable in one place.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.HighRiskThreshold <= 0 {
		cfg.HighRiskThreshold = 70
	}
	return &Aggregator{cfg: cfg, table: weightTable(cfg.Weights)}
}

// weightTable maps every term-availability bitmask to the nominal weights
// renormalized proportionally across the available terms, so a missing
// optional signal never silently biases the score toward zero.
func weightTable(w Weights) [8]Weights {
	nominal := [3]float64{w.Classifier, w.Retrieval, w.Severity}

	var table [8]Weights
	for mask := range table {
		var sum float64
		for i, wi := range nominal {
			if mask&(1<<i) != 0 {
				sum += wi
			}
		}
		if sum == 0 {
			continue
		}
		var row [3]float64
		for i, wi := range nominal {
			if mask&(1<<i) != 0 {
				row[i] = wi / sum
			}
		}
		table[mask] = Weights{Classifier: row[0], Retrieval: row[1], Severity: row[2]}
	}
	return table
}

// Aggregate combines the alert and whatever partial results the fan-out
// collected into a terminal verdict. Identity, timestamps and processing
// time are filled in by the caller.
func (a *Aggregator) Aggregate(al *alert.Alert, p *Partial) *Verdict {
	mask := termSeverity
	var clsTerm, retTerm float64

	if p.Classifier != nil {
		mask |= termClassifier
		if p.Classifier.Label == LabelAttack {
			clsTerm = p.Classifier.Confidence
		}
	}
	if p.RetrievalOK {
		mask |= termRetrieval
		for _, c := range p.Contexts {
			if c.Similarity > retTerm {
				retTerm = c.Similarity
			}
		}
	}

	w := a.table[mask]
	sevTerm := float64(al.Severity) / alert.MaxSeverity
	score := 100 * (w.Classifier*clsTerm + w.Retrieval*retTerm + w.Severity*sevTerm)
	risk := int(math.Round(score))
	if risk < 0 {
		risk = 0
	}
	if risk > 100 {
		risk = 100
	}

	v := &Verdict{
		AlertID:            al.ID,
		RiskScore:          risk,
		Classification:     a.classify(p.Classifier, risk),
		MitreTechniques:    a.techniques(al, p),
		RecommendedActions: a.actions(p, risk),
		ComponentsUsed:     p.ComponentsUsed(),
		Degraded:           p.Degraded(),
	}
	v.Status = StatusCompleted
	if v.Degraded {
		v.Status = StatusDegraded
	}
	if p.Classifier != nil {
		v.MLPrediction = &MLPrediction{
			Label:      p.Classifier.Label,
			Confidence: p.Classifier.Confidence,
		}
	}
	if p.Reasoning != nil {
		v.Analysis = p.Reasoning.Summary
		v.TokensUsed = p.Reasoning.TokensUsed
	}
	return v
}

func (a *Aggregator) classify(cls *ClassifierResult, risk int) string {
	if cls != nil {
		if cls.Prediction != "" {
			return cls.Prediction
		}
		return string(cls.Label)
	}
	if risk >= a.cfg.HighRiskThreshold {
		return "suspected-attack"
	}
	return "unclassified"
}

// techniques merges retrieved, reasoning-extracted and rule-provided MITRE
// techniques, deduplicated by technique ID. First writer wins: retrieved
// contexts arrive ranked by similarity, so ordering is deterministic for
// identical inputs.
func (a *Aggregator) techniques(al *alert.Alert, p *Partial) []TechniqueRef {
	seen := make(map[string]bool)
	out := []TechniqueRef{}

	for _, c := range p.Contexts {
		if c.Similarity < a.cfg.MinSimilarity || seen[c.TechniqueID] {
			continue
		}
		seen[c.TechniqueID] = true
		out = append(out, TechniqueRef{
			ID:      c.TechniqueID,
			Name:    c.TechniqueName,
			Tactics: c.Tactics,
			Source:  ComponentRetrieval,
			Score:   c.Similarity,
		})
	}
	if p.Reasoning != nil {
		for _, id := range p.Reasoning.TechniqueIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, TechniqueRef{ID: id, Source: ComponentReasoning})
		}
	}
	for _, id := range al.MitreTechniques {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, TechniqueRef{ID: id, Source: "rule"})
	}
	return out
}

func (a *Aggregator) actions(p *Partial, risk int) []string {
	if p.Reasoning != nil && len(p.Reasoning.RecommendedActions) > 0 {
		return p.Reasoning.RecommendedActions
	}
	attack := risk >= a.cfg.HighRiskThreshold
	if p.Classifier != nil {
		attack = p.Classifier.Label == LabelAttack
	}
	if attack {
		return []string{
			"Escalate to a SOC analyst for manual review",
			"Preserve source and destination host logs",
			"Consider blocking the source IP pending investigation",
		}
	}
	return []string{
		"Close after spot-checking the raw log",
		"No immediate response required",
	}
}
