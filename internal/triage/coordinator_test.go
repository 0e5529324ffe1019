package triage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/backends"
)

type fakeBackend[I, O any] struct {
	name    string
	fn      func(ctx context.Context, in I) (O, error)
	healthy bool
}

func (f *fakeBackend[I, O]) Name() string                           { return f.name }
func (f *fakeBackend[I, O]) Call(ctx context.Context, in I) (O, error) { return f.fn(ctx, in) }
func (f *fakeBackend[I, O]) Healthy(context.Context) bool           { return f.healthy }

func okClassifier(res *ClassifierResult) *fakeBackend[[]float64, *ClassifierResult] {
	return &fakeBackend[[]float64, *ClassifierResult]{
		name:    ComponentClassifier,
		healthy: true,
		fn: func(context.Context, []float64) (*ClassifierResult, error) {
			return res, nil
		},
	}
}

func okRetrieval(hits []RetrievedContext) *fakeBackend[RetrievalQuery, []RetrievedContext] {
	return &fakeBackend[RetrievalQuery, []RetrievedContext]{
		name:    ComponentRetrieval,
		healthy: true,
		fn: func(context.Context, RetrievalQuery) ([]RetrievedContext, error) {
			return hits, nil
		},
	}
}

func okReasoning(res *ReasoningResult) *fakeBackend[ReasoningInput, *ReasoningResult] {
	return &fakeBackend[ReasoningInput, *ReasoningResult]{
		name:    ComponentReasoning,
		healthy: true,
		fn: func(context.Context, ReasoningInput) (*ReasoningResult, error) {
			return res, nil
		},
	}
}

func TestCollect_FanOutFeedsReasoning(t *testing.T) {
	t.Parallel()

	cls := &ClassifierResult{Label: LabelAttack, Confidence: 0.9}
	hits := []RetrievedContext{
		{TechniqueID: "T1078", Similarity: 0.75},
		{TechniqueID: "T1110", Similarity: 0.92},
	}

	var got ReasoningInput
	reasoning := &fakeBackend[ReasoningInput, *ReasoningResult]{
		name:    ComponentReasoning,
		healthy: true,
		fn: func(_ context.Context, in ReasoningInput) (*ReasoningResult, error) {
			got = in
			return &ReasoningResult{Summary: "grounded"}, nil
		},
	}

	c := NewCoordinator(okClassifier(cls), okRetrieval(hits), reasoning,
		CoordinatorConfig{}, log.Nop(), CoordinatorHooks{})

	p := c.Collect(context.Background(), testAlert(7), make([]float64, alert.FeatureArity), "desc")

	if p.Degraded() {
		t.Fatalf("unexpected degradation: %v", p.Errors)
	}
	if got.Classifier != cls {
		t.Error("reasoning did not receive the classifier result")
	}
	if len(got.Contexts) != 2 || got.Contexts[0].TechniqueID != "T1110" {
		t.Errorf("reasoning contexts = %+v, want similarity-descending order", got.Contexts)
	}
	if p.Reasoning == nil || p.Reasoning.Summary != "grounded" {
		t.Errorf("reasoning result not collected: %+v", p.Reasoning)
	}
}

func TestCollect_ClassifierFailureIsPartial(t *testing.T) {
	t.Parallel()

	classifier := &fakeBackend[[]float64, *ClassifierResult]{
		name: ComponentClassifier,
		fn: func(context.Context, []float64) (*ClassifierResult, error) {
			return nil, backends.ErrBackendUnavailable
		},
	}

	var sawNilClassifier bool
	reasoning := &fakeBackend[ReasoningInput, *ReasoningResult]{
		name:    ComponentReasoning,
		healthy: true,
		fn: func(_ context.Context, in ReasoningInput) (*ReasoningResult, error) {
			sawNilClassifier = in.Classifier == nil
			return &ReasoningResult{}, nil
		},
	}

	c := NewCoordinator(classifier, okRetrieval(nil), reasoning,
		CoordinatorConfig{}, log.Nop(), CoordinatorHooks{})

	p := c.Collect(context.Background(), testAlert(7), make([]float64, alert.FeatureArity), "desc")

	if !errors.Is(p.Errors[ComponentClassifier], backends.ErrBackendUnavailable) {
		t.Errorf("classifier error = %v, want unavailable", p.Errors[ComponentClassifier])
	}
	if !sawNilClassifier {
		t.Error("reasoning should run with a nil classifier signal")
	}
	if !p.RetrievalOK {
		t.Error("empty retrieval success should still count as available")
	}
	if !p.Degraded() {
		t.Error("one missing signal must mark the partial degraded")
	}
}

func TestCollect_ReasoningTimeout(t *testing.T) {
	t.Parallel()

	reasoning := &fakeBackend[ReasoningInput, *ReasoningResult]{
		name: ComponentReasoning,
		fn: func(ctx context.Context, _ ReasoningInput) (*ReasoningResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	c := NewCoordinator(
		okClassifier(&ClassifierResult{Label: LabelAttack, Confidence: 0.8}),
		okRetrieval([]RetrievedContext{{TechniqueID: "T1110", Similarity: 0.9}}),
		reasoning,
		CoordinatorConfig{ReasoningTimeout: 50 * time.Millisecond, Overall: 5 * time.Second},
		log.Nop(), CoordinatorHooks{},
	)

	start := time.Now()
	p := c.Collect(context.Background(), testAlert(7), make([]float64, alert.FeatureArity), "desc")

	if time.Since(start) > 2*time.Second {
		t.Fatal("reasoning timeout did not bound the call")
	}
	if !errors.Is(p.Errors[ComponentReasoning], backends.ErrBackendTimeout) {
		t.Errorf("reasoning error = %v, want timeout", p.Errors[ComponentReasoning])
	}
	if p.Classifier == nil || !p.RetrievalOK {
		t.Error("stage one signals must survive a reasoning timeout")
	}
}

func TestCollect_OverallDeadlineAbandonsStragglers(t *testing.T) {
	t.Parallel()

	retrieval := &fakeBackend[RetrievalQuery, []RetrievedContext]{
		name: ComponentRetrieval,
		fn: func(ctx context.Context, _ RetrievalQuery) ([]RetrievedContext, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	var reasoningCalls atomic.Int32
	reasoning := &fakeBackend[ReasoningInput, *ReasoningResult]{
		name: ComponentReasoning,
		fn: func(context.Context, ReasoningInput) (*ReasoningResult, error) {
			reasoningCalls.Add(1)
			return &ReasoningResult{}, nil
		},
	}

	c := NewCoordinator(
		okClassifier(&ClassifierResult{Label: LabelBenign, Confidence: 0.6}),
		retrieval,
		reasoning,
		CoordinatorConfig{RetrievalTimeout: time.Minute, Overall: 100 * time.Millisecond},
		log.Nop(), CoordinatorHooks{},
	)

	p := c.Collect(context.Background(), testAlert(4), make([]float64, alert.FeatureArity), "desc")

	if !errors.Is(p.Errors[ComponentRetrieval], backends.ErrBackendTimeout) {
		t.Errorf("retrieval error = %v, want timeout at overall deadline", p.Errors[ComponentRetrieval])
	}
	// the overall budget is spent, so reasoning is skipped, not launched
	if reasoningCalls.Load() != 0 {
		t.Error("reasoning must not launch with no overall budget left")
	}
	if !errors.Is(p.Errors[ComponentReasoning], backends.ErrBackendTimeout) {
		t.Errorf("reasoning error = %v, want skip recorded as timeout", p.Errors[ComponentReasoning])
	}
	if p.Classifier == nil {
		t.Error("fast classifier signal must be kept")
	}
}

func TestCollect_HookObservesEveryCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	hooks := CoordinatorHooks{
		OnBackendCall: func(string, error, time.Duration) { calls.Add(1) },
	}

	c := NewCoordinator(
		okClassifier(&ClassifierResult{Label: LabelBenign}),
		okRetrieval(nil),
		okReasoning(&ReasoningResult{}),
		CoordinatorConfig{}, log.Nop(), hooks,
	)
	c.Collect(context.Background(), testAlert(2), make([]float64, alert.FeatureArity), "desc")

	if calls.Load() != 3 {
		t.Fatalf("hook fired %d times, want 3", calls.Load())
	}
}
