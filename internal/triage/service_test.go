package triage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/backends"
)

// mapStore is a minimal in-process Store for service tests.
type mapStore struct {
	mu       sync.Mutex
	verdicts map[string]*Verdict
	byAlert  map[string]string
}

func newMapStore() *mapStore {
	return &mapStore{verdicts: map[string]*Verdict{}, byAlert: map[string]string{}}
}

func (s *mapStore) Get(_ context.Context, id string) (*Verdict, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verdicts[id]
	return v, ok, nil
}

func (s *mapStore) GetByAlertID(_ context.Context, alertID string) (*Verdict, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAlert[alertID]
	if !ok {
		return nil, false, nil
	}
	return s.verdicts[id], true, nil
}

func (s *mapStore) Put(_ context.Context, v *Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[v.ID] = v
	s.byAlert[v.AlertID] = v.ID
	return nil
}

type capturePublisher struct {
	mu   sync.Mutex
	seen []*Verdict
}

func (p *capturePublisher) Publish(v *Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, v)
}

func newTestService(t *testing.T, classifier ClassifierBackend, cfg ServiceConfig) (*Service, *mapStore, *capturePublisher) {
	t.Helper()
	coord := NewCoordinator(
		classifier,
		okRetrieval([]RetrievedContext{{TechniqueID: "T1110", Similarity: 0.9}}),
		okReasoning(&ReasoningResult{Summary: "ok", RecommendedActions: []string{"review"}}),
		CoordinatorConfig{Overall: 5 * time.Second},
		log.Nop(), CoordinatorHooks{},
	)
	store := newMapStore()
	pub := &capturePublisher{}
	svc := NewService(store, coord, NewAggregator(AggregatorConfig{}), pub, log.Nop(), nil, cfg)
	return svc, store, pub
}

func TestTriage_InvalidAlert(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	classifier := &fakeBackend[[]float64, *ClassifierResult]{
		name: ComponentClassifier,
		fn: func(context.Context, []float64) (*ClassifierResult, error) {
			calls.Add(1)
			return &ClassifierResult{Label: LabelBenign}, nil
		},
	}
	svc, _, _ := newTestService(t, classifier, ServiceConfig{})

	al := testAlert(7)
	al.RawFeatures = al.RawFeatures[:10]

	_, err := svc.Triage(context.Background(), al)
	if !errors.Is(err, alert.ErrInvalidAlert) {
		t.Fatalf("err = %v, want ErrInvalidAlert", err)
	}
	if calls.Load() != 0 {
		t.Error("no backend call may happen for an invalid alert")
	}
}

func TestTriage_DedupJoinsShareOneFanOut(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	classifier := &fakeBackend[[]float64, *ClassifierResult]{
		name: ComponentClassifier,
		fn: func(context.Context, []float64) (*ClassifierResult, error) {
			if calls.Add(1) == 1 {
				close(started)
			}
			<-release
			return &ClassifierResult{Label: LabelAttack, Confidence: 0.9}, nil
		},
	}
	svc, _, pub := newTestService(t, classifier, ServiceConfig{})

	const submitters = 8
	verdicts := make(chan *Verdict, submitters)
	errs := make(chan error, submitters)

	var wg sync.WaitGroup
	for range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.Triage(context.Background(), testAlert(7))
			verdicts <- v
			errs <- err
		}()
	}

	<-started
	// all submitters are now either the owner or joined; let the fan-out finish
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(verdicts)
	close(errs)

	if calls.Load() != 1 {
		t.Fatalf("classifier called %d times, want exactly 1 fan-out", calls.Load())
	}
	for err := range errs {
		if err != nil {
			t.Fatalf("submitter error: %v", err)
		}
	}
	var firstID string
	for v := range verdicts {
		if v == nil {
			t.Fatal("nil verdict")
		}
		if firstID == "" {
			firstID = v.ID
		}
		if v.ID != firstID {
			t.Errorf("verdict IDs diverge: %s vs %s", v.ID, firstID)
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.seen) != 1 {
		t.Errorf("published %d verdicts, want 1", len(pub.seen))
	}
}

func TestTriage_ResubmitAfterCompletionRunsFresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	classifier := &fakeBackend[[]float64, *ClassifierResult]{
		name: ComponentClassifier,
		fn: func(context.Context, []float64) (*ClassifierResult, error) {
			calls.Add(1)
			return &ClassifierResult{Label: LabelBenign, Confidence: 0.5}, nil
		},
	}
	svc, _, _ := newTestService(t, classifier, ServiceConfig{})

	v1, err := svc.Triage(context.Background(), testAlert(7))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := svc.Triage(context.Background(), testAlert(7))
	if err != nil {
		t.Fatal(err)
	}

	if calls.Load() != 2 {
		t.Fatalf("classifier called %d times, want 2: dedup only covers in-flight work", calls.Load())
	}
	if v1.ID == v2.ID {
		t.Error("re-analysis must produce a fresh verdict")
	}
}

func TestTriage_AllBackendsDownStillVerdicts(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	coord := NewCoordinator(
		&fakeBackend[[]float64, *ClassifierResult]{
			name: ComponentClassifier,
			fn: func(context.Context, []float64) (*ClassifierResult, error) {
				return nil, backends.Classify(down)
			},
		},
		&fakeBackend[RetrievalQuery, []RetrievedContext]{
			name: ComponentRetrieval,
			fn: func(context.Context, RetrievalQuery) ([]RetrievedContext, error) {
				return nil, backends.Classify(down)
			},
		},
		&fakeBackend[ReasoningInput, *ReasoningResult]{
			name: ComponentReasoning,
			fn: func(context.Context, ReasoningInput) (*ReasoningResult, error) {
				return nil, backends.Classify(down)
			},
		},
		CoordinatorConfig{Overall: 5 * time.Second}, log.Nop(), CoordinatorHooks{},
	)
	store := newMapStore()
	svc := NewService(store, coord, NewAggregator(AggregatorConfig{}), nil, log.Nop(), nil, ServiceConfig{})

	v, err := svc.Triage(context.Background(), testAlert(9))
	if err != nil {
		t.Fatalf("backend failures must not surface: %v", err)
	}
	if v.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", v.Status)
	}
	if v.RiskScore != 60 { // round(100 * 9/15)
		t.Errorf("risk = %d, want severity-only 60", v.RiskScore)
	}

	got, ok, err := store.Get(context.Background(), v.ID)
	if err != nil || !ok {
		t.Fatalf("verdict not persisted: ok=%v err=%v", ok, err)
	}
	if got.AlertID != "alert-1" {
		t.Errorf("persisted alert_id = %q", got.AlertID)
	}
}

func TestTriage_JoinerCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	classifier := &fakeBackend[[]float64, *ClassifierResult]{
		name: ComponentClassifier,
		fn: func(context.Context, []float64) (*ClassifierResult, error) {
			<-release
			return &ClassifierResult{Label: LabelBenign}, nil
		},
	}
	svc, _, _ := newTestService(t, classifier, ServiceConfig{})

	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		if _, err := svc.Triage(context.Background(), testAlert(7)); err != nil {
			t.Errorf("owner: %v", err)
		}
	}()

	// a joiner with a short deadline gets its own ctx error while the
	// orchestration keeps running for everyone else
	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := svc.Triage(ctx, testAlert(7))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("joiner err = %v, want deadline exceeded", err)
	}

	close(release)
	<-ownerDone
}

func TestHealth_ProbesAllBackends(t *testing.T) {
	t.Parallel()

	classifier := okClassifier(&ClassifierResult{Label: LabelBenign})
	classifier.healthy = false
	svc, _, _ := newTestService(t, classifier, ServiceConfig{})

	got := svc.Health(context.Background())
	want := map[string]bool{
		ComponentClassifier: false,
		ComponentRetrieval:  true,
		ComponentReasoning:  true,
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("health[%s] = %v, want %v", k, got[k], w)
		}
	}
}
