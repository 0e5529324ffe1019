package triage

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/aegis/internal/backends"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal    *prometheus.CounterVec
	TriageDuration  *prometheus.HistogramVec
	RiskScore       prometheus.Histogram
	BackendCalls    *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	TokensUsed      prometheus.Histogram
	DedupJoins      prometheus.Counter
	InvalidAlerts   prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_triages_total",
			Help: "Total triage orchestrations by final status.",
		}, []string{"status"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_triage_duration_seconds",
			Help:    "Duration of triage orchestrations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s .. ~128s
		}, []string{"status"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_risk_score",
			Help:    "Risk scores produced by completed orchestrations.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}),
		BackendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_backend_calls_total",
			Help: "Total backend calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_backend_call_duration_seconds",
			Help:    "Duration of individual backend calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms .. ~51s
		}, []string{"backend"}),
		TokensUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_reasoning_tokens_used",
			Help:    "Tokens consumed per reasoning call.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100 .. ~102400
		}),
		DedupJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_dedup_joins_total",
			Help: "Submissions that attached to an already in-flight orchestration.",
		}),
		InvalidAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_invalid_alerts_total",
			Help: "Submissions rejected by alert validation.",
		}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.RiskScore,
		m.BackendCalls,
		m.BackendDuration,
		m.TokensUsed,
		m.DedupJoins,
		m.InvalidAlerts,
	)

	return m
}

// Hooks returns a CoordinatorHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() CoordinatorHooks {
	return CoordinatorHooks{
		OnBackendCall: func(backend string, err error, d time.Duration) {
			m.BackendCalls.WithLabelValues(backend, outcomeLabel(err)).Inc()
			m.BackendDuration.WithLabelValues(backend).Observe(d.Seconds())
		},
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, backends.ErrBackendTimeout):
		return "timeout"
	case errors.Is(err, backends.ErrBadResponse):
		return "bad_response"
	default:
		return "unavailable"
	}
}
