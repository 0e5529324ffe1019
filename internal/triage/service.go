package triage

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aegis/internal/alert"
)

// Publisher receives completed verdicts for fire-and-forget delivery to
// downstream sinks. Publish must never block the orchestration path.
type Publisher interface {
	Publish(v *Verdict)
}

// ServiceConfig tunes the orchestration boundary.
type ServiceConfig struct {
	// MaxConcurrent caps simultaneous backend fan-outs. Submissions beyond
	// the cap queue; joiners never consume a slot.
	MaxConcurrent int
}

// Service is the business boundary for triage operations. It owns alert
// validation, in-flight deduplication, the concurrency cap, persistence and
// downstream publication.
type Service struct {
	store   Store
	coord   *Coordinator
	agg     *Aggregator
	pub     Publisher
	logger  log.Logger
	metrics *Metrics

	sem chan struct{}

	mu       sync.Mutex
	inflight map[string]*inflightRun
}

// inflightRun is one orchestration in progress. verdict and err are written
// exactly once, before done is closed.
type inflightRun struct {
	done    chan struct{}
	verdict *Verdict
	err     error
}

// NewService creates a new triage service. pub and metrics may be nil.
func NewService(store Store, coord *Coordinator, agg *Aggregator, pub Publisher, logger log.Logger, metrics *Metrics, cfg ServiceConfig) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Service{
		store:    store,
		coord:    coord,
		agg:      agg,
		pub:      pub,
		logger:   logger,
		metrics:  metrics,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		inflight: make(map[string]*inflightRun),
	}
}

// Triage validates the alert, runs (or joins) the orchestration for its ID
// and returns the resulting verdict. Concurrent submissions for the same
// alert ID share one orchestration and receive the same verdict. Backend
// failures never surface here; only invalid input or caller cancellation do.
func (s *Service) Triage(ctx context.Context, al *alert.Alert) (*Verdict, error) {
	features, desc, err := Extract(al)
	if err != nil {
		if s.metrics != nil {
			s.metrics.InvalidAlerts.Inc()
		}
		return nil, err
	}

	s.mu.Lock()
	if run, ok := s.inflight[al.ID]; ok {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.DedupJoins.Inc()
		}
		s.logger.Info(ctx, "joined in-flight triage", "alert_id", al.ID)
		return s.await(ctx, run)
	}
	run := &inflightRun{done: make(chan struct{})}
	s.inflight[al.ID] = run
	s.mu.Unlock()

	// the orchestration outlives any one caller; joiners may still be
	// waiting after the first submitter gives up
	go s.run(context.WithoutCancel(ctx), al, features, desc, run)

	return s.await(ctx, run)
}

// Get retrieves a verdict by its ID.
func (s *Service) Get(ctx context.Context, id string) (*Verdict, bool, error) {
	return s.store.Get(ctx, id)
}

// GetByAlertID retrieves the most recent verdict for an alert.
func (s *Service) GetByAlertID(ctx context.Context, alertID string) (*Verdict, bool, error) {
	return s.store.GetByAlertID(ctx, alertID)
}

// Health probes all three backends concurrently.
func (s *Service) Health(ctx context.Context) map[string]bool {
	out := make(map[string]bool, 3)

	var mu sync.Mutex
	var wg sync.WaitGroup
	probe := func(name string, healthy func(context.Context) bool) {
		defer wg.Done()
		ok := healthy(ctx)
		mu.Lock()
		out[name] = ok
		mu.Unlock()
	}

	wg.Add(3)
	go probe(ComponentClassifier, s.coord.classifier.Healthy)
	go probe(ComponentRetrieval, s.coord.retrieval.Healthy)
	go probe(ComponentReasoning, s.coord.reasoning.Healthy)
	wg.Wait()

	return out
}

func (s *Service) await(ctx context.Context, run *inflightRun) (*Verdict, error) {
	select {
	case <-run.done:
		return run.verdict, run.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, al *alert.Alert, features []float64, desc string, run *inflightRun) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, al.ID)
		s.mu.Unlock()
		close(run.done)
	}()

	// the cap covers the backend fan-out only; waiting for a slot is part
	// of the submission, not of the orchestration budget
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		run.err = ctx.Err()
		return
	}
	defer func() { <-s.sem }()

	start := time.Now()
	partial := s.coord.Collect(ctx, al, features, desc)
	v := s.agg.Aggregate(al, partial)
	v.ID = ulid.Make().String()
	v.CreatedAt = start.UTC()
	v.CompletedAt = time.Now().UTC()
	v.ProcessingTimeMs = time.Since(start).Milliseconds()

	if s.metrics != nil {
		s.metrics.TriagesTotal.WithLabelValues(string(v.Status)).Inc()
		s.metrics.TriageDuration.WithLabelValues(string(v.Status)).Observe(time.Since(start).Seconds())
		s.metrics.RiskScore.Observe(float64(v.RiskScore))
		if v.TokensUsed > 0 {
			s.metrics.TokensUsed.Observe(float64(v.TokensUsed))
		}
	}

	if err := s.store.Put(ctx, v); err != nil {
		s.logger.Error(ctx, err, "failed to persist verdict", "alert_id", al.ID, "verdict_id", v.ID)
	}
	if s.pub != nil {
		s.pub.Publish(v)
	}

	s.logger.Info(ctx, "triage complete",
		"alert_id", al.ID,
		"verdict_id", v.ID,
		"status", string(v.Status),
		"risk_score", v.RiskScore,
		"degraded", v.Degraded,
		"duration_ms", v.ProcessingTimeMs,
	)
	run.verdict = v
}
