package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/linnemanlabs/aegis/internal/triage"
)

func TestMessage_KeyedByAlertID(t *testing.T) {
	t.Parallel()

	completed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	v := &triage.Verdict{
		ID:             "01JEVENT",
		AlertID:        "alert-42",
		Status:         triage.StatusCompleted,
		RiskScore:      81,
		Classification: "BruteForce",
		CompletedAt:    completed,
	}

	msg, err := message(v)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if string(msg.Key) != "alert-42" {
		t.Errorf("key = %q, want alert ID", msg.Key)
	}
	if !msg.Time.Equal(completed) {
		t.Errorf("time = %v, want completion time", msg.Time)
	}

	var decoded triage.Verdict
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if decoded.ID != v.ID || decoded.RiskScore != 81 {
		t.Errorf("decoded = %+v, want round-tripped verdict", decoded)
	}
}
