package triage

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/aegis/internal/alert"
)

// Extract converts a raw alert into the fixed-shape numeric feature vector
// and the free-text description the backends consume. It is pure and total
// for well-formed input; malformed input yields ErrInvalidAlert and nothing
// else can fail.
func Extract(al *alert.Alert) ([]float64, string, error) {
	if al == nil {
		return nil, "", fmt.Errorf("%w: nil alert", alert.ErrInvalidAlert)
	}
	if err := al.Validate(); err != nil {
		return nil, "", err
	}

	// copy so backend adapters can never alias the immutable input
	features := make([]float64, alert.FeatureArity)
	copy(features, al.RawFeatures)

	return features, describe(al), nil
}

// describe renders the alert as the one-line description used as the
// retrieval query and the reasoning prompt subject.
func describe(al *alert.Alert) string {
	var b strings.Builder
	b.WriteString(al.RuleDescription)
	fmt.Fprintf(&b, " (rule level %d)", al.Severity)

	if al.SourceIP != "" {
		fmt.Fprintf(&b, " from %s", al.SourceIP)
	}
	if al.DestIP != "" {
		fmt.Fprintf(&b, " to %s", al.DestIP)
	}
	if al.Protocol != "" {
		fmt.Fprintf(&b, " over %s", strings.ToLower(al.Protocol))
	}
	if al.User != "" {
		fmt.Fprintf(&b, " user %s", al.User)
	}
	if al.Process != "" {
		fmt.Fprintf(&b, " process %s", al.Process)
	}
	return b.String()
}
