package triage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/backends"
)

// minReasoningBudget is the smallest slice of the overall deadline worth
// spending on a generative call. Below this the reasoning stage is skipped
// outright rather than launched to die.
const minReasoningBudget = time.Second

// CoordinatorConfig bounds the backend fan-out.
type CoordinatorConfig struct {
	// Per-backend call budgets.
	ClassifierTimeout time.Duration
	RetrievalTimeout  time.Duration
	ReasoningTimeout  time.Duration

	// Overall caps one whole orchestration, all stages included.
	Overall time.Duration

	// Retrieval query shape.
	TopK          int
	MinSimilarity float64
}

func (c *CoordinatorConfig) withDefaults() {
	if c.ClassifierTimeout <= 0 {
		c.ClassifierTimeout = 10 * time.Second
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 10 * time.Second
	}
	if c.ReasoningTimeout <= 0 {
		c.ReasoningTimeout = 60 * time.Second
	}
	if c.Overall <= 0 {
		c.Overall = 90 * time.Second
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.7
	}
}

// CoordinatorHooks are optional callbacks for instrumentation. Nil hooks
// are skipped.
type CoordinatorHooks struct {
	// OnBackendCall fires after every backend call, successful or not.
	OnBackendCall func(backend string, err error, duration time.Duration)
}

// Partial is everything the fan-out managed to collect before its deadlines
// ran out. Any subset of signals may be present; the severity term always is.
type Partial struct {
	Classifier *ClassifierResult

	// Contexts with RetrievalOK distinguishes "retrieval answered with
	// nothing relevant" from "retrieval never answered".
	Contexts    []RetrievedContext
	RetrievalOK bool

	Reasoning *ReasoningResult

	// Errors holds the taxonomy error per backend that did not contribute.
	Errors map[string]error
}

// ComponentsUsed lists the backends that contributed, in canonical order.
func (p *Partial) ComponentsUsed() []string {
	out := []string{}
	if p.Classifier != nil {
		out = append(out, ComponentClassifier)
	}
	if p.RetrievalOK {
		out = append(out, ComponentRetrieval)
	}
	if p.Reasoning != nil {
		out = append(out, ComponentReasoning)
	}
	return out
}

// Degraded reports whether any backend failed to contribute.
func (p *Partial) Degraded() bool { return len(p.Errors) > 0 }

// Coordinator runs the backend fan-out for one alert: classifier and
// retrieval concurrently, then reasoning fed with whatever the first stage
// produced. It never fails; a fully dark backend fleet yields an empty
// Partial and the caller scores on severity alone.
type Coordinator struct {
	classifier ClassifierBackend
	retrieval  RetrievalBackend
	reasoning  ReasoningBackend
	cfg        CoordinatorConfig
	logger     log.Logger
	hooks      CoordinatorHooks
}

// NewCoordinator wires the three backends behind one fan-out.
func NewCoordinator(
	classifier ClassifierBackend,
	retrieval RetrievalBackend,
	reasoning ReasoningBackend,
	cfg CoordinatorConfig,
	logger log.Logger,
	hooks CoordinatorHooks,
) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{
		classifier: classifier,
		retrieval:  retrieval,
		reasoning:  reasoning,
		cfg:        cfg,
		logger:     logger,
		hooks:      hooks,
	}
}

type stageOutcome struct {
	backend  string
	cls      *ClassifierResult
	contexts []RetrievedContext
	err      error
}

// Collect runs the full fan-out and returns whatever signals it gathered.
func (c *Coordinator) Collect(ctx context.Context, al *alert.Alert, features []float64, desc string) *Partial {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Overall)
	defer cancel()

	L := c.logger.With("alert_id", al.ID)
	p := &Partial{Errors: map[string]error{}}

	// Stage one: classifier and retrieval in parallel. The results channel
	// is buffered so a worker abandoned at the overall deadline can still
	// deliver and exit instead of leaking.
	stageCtx, stageCancel := context.WithCancel(ctx)
	defer stageCancel()

	results := make(chan stageOutcome, 2)

	go func() {
		cctx, ccancel := context.WithTimeout(stageCtx, c.cfg.ClassifierTimeout)
		defer ccancel()
		start := time.Now()
		res, err := c.classifier.Call(cctx, features)
		c.observe(ComponentClassifier, err, time.Since(start))
		results <- stageOutcome{backend: ComponentClassifier, cls: res, err: err}
	}()

	go func() {
		rctx, rcancel := context.WithTimeout(stageCtx, c.cfg.RetrievalTimeout)
		defer rcancel()
		start := time.Now()
		hits, err := c.retrieval.Call(rctx, RetrievalQuery{
			Text:          desc,
			TopK:          c.cfg.TopK,
			MinSimilarity: c.cfg.MinSimilarity,
		})
		c.observe(ComponentRetrieval, err, time.Since(start))
		results <- stageOutcome{backend: ComponentRetrieval, contexts: hits, err: err}
	}()

	pending := map[string]bool{ComponentClassifier: true, ComponentRetrieval: true}
	for len(pending) > 0 {
		select {
		case out := <-results:
			delete(pending, out.backend)
			if out.err != nil {
				p.Errors[out.backend] = out.err
				L.Warn(ctx, "backend signal missing", "backend", out.backend, "error", out.err.Error())
				continue
			}
			switch out.backend {
			case ComponentClassifier:
				p.Classifier = out.cls
			case ComponentRetrieval:
				p.RetrievalOK = true
				p.Contexts = out.contexts
				sort.SliceStable(p.Contexts, func(i, j int) bool {
					return p.Contexts[i].Similarity > p.Contexts[j].Similarity
				})
			}
		case <-ctx.Done():
			stageCancel()
			for b := range pending {
				p.Errors[b] = fmt.Errorf("%w: overall deadline reached", backends.ErrBackendTimeout)
			}
			clear(pending)
		}
	}

	// Stage two: reasoning grounded on whatever stage one produced. It gets
	// its own budget capped by what remains of the overall deadline.
	remaining := c.cfg.Overall
	if dl, ok := ctx.Deadline(); ok {
		remaining = time.Until(dl)
	}
	if remaining < minReasoningBudget {
		p.Errors[ComponentReasoning] = fmt.Errorf("%w: skipped, %s left of overall budget",
			backends.ErrBackendTimeout, remaining.Round(time.Millisecond))
		L.Warn(ctx, "reasoning skipped", "remaining", remaining.String())
		return p
	}
	budget := c.cfg.ReasoningTimeout
	if remaining < budget {
		budget = remaining
	}

	rctx, rcancel := context.WithTimeout(ctx, budget)
	defer rcancel()

	start := time.Now()
	res, err := c.reasoning.Call(rctx, ReasoningInput{
		Alert:       al,
		Description: desc,
		Classifier:  p.Classifier,
		Contexts:    p.Contexts,
	})
	c.observe(ComponentReasoning, err, time.Since(start))
	if err != nil {
		p.Errors[ComponentReasoning] = err
		L.Warn(ctx, "backend signal missing", "backend", ComponentReasoning, "error", err.Error())
		return p
	}
	p.Reasoning = res
	return p
}

func (c *Coordinator) observe(backend string, err error, d time.Duration) {
	if c.hooks.OnBackendCall != nil {
		c.hooks.OnBackendCall(backend, err, d)
	}
}
