package backends

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ResilienceConfig tunes the protective layers wrapped around a backend.
type ResilienceConfig struct {
	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// Attempts is the number of tries per Call. Permanent schema errors
	// are never retried.
	Attempts uint

	// RPS and Burst configure the outbound rate limiter. RPS <= 0 disables
	// rate limiting.
	RPS   float64
	Burst int
}

// Resilient wraps a backend Call with a rate limiter, a circuit breaker and
// bounded retries, in that order. The breaker opens after consecutive
// failures so a dead backend degrades to an instant missing-signal instead
// of burning the orchestration deadline.
type Resilient[I, O any] struct {
	next    Call[I, O]
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ResilienceConfig
}

// Resilience wraps next with the protective layers described by cfg.
func Resilience[I, O any](next Call[I, O], cfg ResilienceConfig) *Resilient[I, O] {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Resilient[I, O]{next: next, cb: cb, limiter: limiter, cfg: cfg}
}

// Name returns the wrapped backend's name.
func (r *Resilient[I, O]) Name() string { return r.next.Name() }

// Healthy delegates to the wrapped backend unless the breaker is open.
func (r *Resilient[I, O]) Healthy(ctx context.Context) bool {
	if r.cb.State() == gobreaker.StateOpen {
		return false
	}
	return r.next.Healthy(ctx)
}

// Call performs one resilient request. The returned error is always from
// the backend taxonomy.
func (r *Resilient[I, O]) Call(ctx context.Context, in I) (O, error) {
	var zero O

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return zero, Classify(err)
		}
	}

	res, err := r.cb.Execute(func() (any, error) {
		var out O
		retryErr := retry.New(
			retry.Context(ctx),
			retry.Attempts(r.cfg.Attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				// schema mismatches will not fix themselves
				return !errors.Is(err, ErrBadResponse)
			}),
		).Do(func() error {
			attemptCtx := ctx
			if r.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
				defer cancel()
			}
			var callErr error
			out, callErr = r.next.Call(attemptCtx, in)
			return Classify(callErr)
		})
		return out, retryErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, Classify(err)
		}
		return zero, err
	}
	out, ok := res.(O)
	if !ok {
		return zero, ErrBadResponse
	}
	return out, nil
}
