// Package alert defines the inbound security alert model shared by the API
// and the triage pipeline. Alerts arrive from the SIEM in Wazuh-style JSON
// and are read-only once accepted.
package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// FeatureArity is the fixed length of the numeric feature vector attached to
// every alert, matching the CICIDS2017 flow-feature schema the classifier
// ensemble was trained on.
const FeatureArity = 79

// MaxSeverity is the top of the Wazuh rule level scale.
const MaxSeverity = 15

// ErrInvalidAlert marks a structurally malformed alert. It is a permanent,
// caller-side error: no backend call is ever attempted for such an alert.
var ErrInvalidAlert = errors.New("invalid alert")

// Alert is one raw security event requiring triage. The ID is externally
// assigned and globally unique per triage request.
type Alert struct {
	ID              string    `json:"alert_id" validate:"required"`
	Timestamp       time.Time `json:"timestamp"`
	RuleID          string    `json:"rule_id,omitempty"`
	RuleDescription string    `json:"rule_description" validate:"required"`
	Severity        int       `json:"rule_level" validate:"gte=0,lte=15"`
	SourceIP        string    `json:"source_ip,omitempty" validate:"omitempty,ip"`
	DestIP          string    `json:"dest_ip,omitempty" validate:"omitempty,ip"`
	Protocol        string    `json:"protocol,omitempty"`
	User            string    `json:"user,omitempty"`
	Process         string    `json:"process,omitempty"`
	RawLog          string    `json:"raw_log,omitempty"`
	RawFeatures     []float64 `json:"features" validate:"required"`

	// MitreTechniques carries technique IDs the originating detection rule
	// already mapped, if any.
	MitreTechniques []string `json:"mitre_techniques,omitempty"`
}

var validate = validator.New()

// Validate checks the alert against the canonical schema. All failures are
// wrapped in ErrInvalidAlert so callers can classify them as permanent.
func (a *Alert) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}
	if len(a.RawFeatures) != FeatureArity {
		return fmt.Errorf("%w: feature vector has arity %d, want %d",
			ErrInvalidAlert, len(a.RawFeatures), FeatureArity)
	}
	return nil
}
