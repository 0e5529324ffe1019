// Package reasoning calls a generative model to produce a grounded analyst
// assessment of an alert, fed with whatever classifier and knowledge-base
// signals the fan-out collected.
package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/aegis/internal/backends"
	"github.com/linnemanlabs/aegis/internal/triage"
)

// BuildPrompt renders the analyst prompt for one alert. Sections for the ML
// prediction and retrieved ATT&CK context appear only when those signals are
// present, so a degraded fan-out still yields a coherent prompt.
func BuildPrompt(in triage.ReasoningInput) string {
	var b strings.Builder

	b.WriteString("You are an expert cybersecurity analyst performing alert triage for a Security Operations Center (SOC).\n\n")
	b.WriteString("**TASK:** Analyze the following security alert and provide a structured assessment.\n\n")

	b.WriteString("**ALERT DETAILS:**\n")
	al := in.Alert
	fmt.Fprintf(&b, "- Alert ID: %s\n", al.ID)
	fmt.Fprintf(&b, "- Rule: %s (Level %d)\n", al.RuleDescription, al.Severity)
	if !al.Timestamp.IsZero() {
		fmt.Fprintf(&b, "- Timestamp: %s\n", al.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
	}
	fmt.Fprintf(&b, "- Source IP: %s\n", orNA(al.SourceIP))
	fmt.Fprintf(&b, "- Destination IP: %s\n", orNA(al.DestIP))
	fmt.Fprintf(&b, "- User: %s\n", orNA(al.User))
	fmt.Fprintf(&b, "- Process: %s\n", orNA(al.Process))
	fmt.Fprintf(&b, "- Raw Log: %s\n", orNA(al.RawLog))

	if cls := in.Classifier; cls != nil {
		b.WriteString("\n**ML MODEL PREDICTION:**\n")
		fmt.Fprintf(&b, "- Prediction: %s\n", cls.Prediction)
		fmt.Fprintf(&b, "- Confidence: %.2f%%\n", cls.Confidence*100)
		fmt.Fprintf(&b, "- Model: %s\n", cls.Model)
	}

	if len(in.Contexts) > 0 {
		b.WriteString("\n**RELEVANT MITRE ATT&CK CONTEXT:**\n")
		for _, c := range in.Contexts {
			fmt.Fprintf(&b, "- %s %s (similarity %.2f", c.TechniqueID, c.TechniqueName, c.Similarity)
			if len(c.Tactics) > 0 {
				fmt.Fprintf(&b, ", tactics: %s", strings.Join(c.Tactics, ", "))
			}
			b.WriteString(")\n")
		}
	}

	b.WriteString(`
**CRITICAL RULES:**
- Base your assessment ONLY on the provided evidence
- Do NOT invent indicators or details not present above
- Be concise but thorough

**OUTPUT FORMAT (JSON):**
{
    "summary": "Brief technical analysis with evidence",
    "recommended_actions": ["Most urgent action first", "Next action"],
    "mitre_techniques": ["T1110"]
}

Begin your analysis now:`)

	return b.String()
}

// analysis is the JSON document the model is asked to emit.
type analysis struct {
	Summary            string   `json:"summary"`
	RecommendedActions []string `json:"recommended_actions"`
	MitreTechniques    []string `json:"mitre_techniques"`
}

// parseAnalysis decodes the model's JSON output, tolerating a markdown code
// fence around the document. Anything else is a contract violation.
func parseAnalysis(raw string) (*triage.ReasoningResult, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var out analysis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", backends.ErrBadResponse, err)
	}
	if out.Summary == "" {
		return nil, fmt.Errorf("%w: analysis has no summary", backends.ErrBadResponse)
	}
	return &triage.ReasoningResult{
		Summary:            out.Summary,
		RecommendedActions: out.RecommendedActions,
		TechniqueIDs:       out.MitreTechniques,
	}, nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
