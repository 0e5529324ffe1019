package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/linnemanlabs/aegis/internal/triage"
)

func TestStore_PutAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	v := &triage.Verdict{ID: "v-1", AlertID: "alert-1", Status: triage.StatusCompleted, RiskScore: 81}
	if err := s.Put(ctx, v); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "v-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected verdict to be found")
	}
	if got.AlertID != "alert-1" {
		t.Errorf("AlertID = %q, want %q", got.AlertID, "alert-1")
	}
	if got.RiskScore != 81 {
		t.Errorf("RiskScore = %d, want 81", got.RiskScore)
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_GetByAlertID(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Put(ctx, &triage.Verdict{ID: "v-2", AlertID: "alert-abc"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.GetByAlertID(ctx, "alert-abc")
	if err != nil {
		t.Fatalf("GetByAlertID: %v", err)
	}
	if !ok {
		t.Fatal("expected verdict to be found by alert ID")
	}
	if got.ID != "v-2" {
		t.Errorf("ID = %q, want %q", got.ID, "v-2")
	}
}

func TestStore_GetByAlertIDMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.GetByAlertID(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetByAlertID: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing alert ID")
	}
}

func TestStore_LatestVerdictWinsPerAlert(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Put(ctx, &triage.Verdict{ID: "v-old", AlertID: "alert-3", RiskScore: 20})
	_ = s.Put(ctx, &triage.Verdict{ID: "v-new", AlertID: "alert-3", RiskScore: 75})

	got, ok, err := s.GetByAlertID(ctx, "alert-3")
	if err != nil {
		t.Fatalf("GetByAlertID: %v", err)
	}
	if !ok {
		t.Fatal("expected verdict to be found")
	}
	if got.ID != "v-new" {
		t.Errorf("ID = %q, want the most recent verdict", got.ID)
	}

	// Older verdict remains retrievable by its own ID.
	old, ok, err := s.Get(ctx, "v-old")
	if err != nil || !ok {
		t.Fatalf("Get old: ok=%v err=%v", ok, err)
	}
	if old.RiskScore != 20 {
		t.Errorf("old RiskScore = %d, want 20", old.RiskScore)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Put(ctx, &triage.Verdict{ID: "v-4", AlertID: "alert-4", Classification: "BruteForce"})

	got, _, _ := s.Get(ctx, "v-4")
	got.Classification = "mutated"

	again, _, _ := s.Get(ctx, "v-4")
	if again.Classification != "BruteForce" {
		t.Errorf("Classification = %q, caller mutation leaked into store", again.Classification)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	for i := range n {
		id := fmt.Sprintf("v-%d", i)
		alertID := fmt.Sprintf("alert-%d", i)

		go func() {
			defer wg.Done()
			_ = s.Put(ctx, &triage.Verdict{ID: id, AlertID: alertID, Status: triage.StatusPending})
		}()

		go func() {
			defer wg.Done()
			_, _, _ = s.Get(ctx, id)
			_, _, _ = s.GetByAlertID(ctx, alertID)
		}()
	}

	wg.Wait()
}
