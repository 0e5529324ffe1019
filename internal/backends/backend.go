// Package backends defines the uniform contract the triage coordinator uses
// to talk to its three analysis backends, plus the shared error taxonomy and
// the resilience wrapper applied to every outbound call.
package backends

import "context"

// Call is the polymorphic capability every backend adapter implements.
// Implementations are stateless and safe for concurrent reuse; the ctx
// carries the per-call deadline.
type Call[I, O any] interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Call performs one request against the backend.
	Call(ctx context.Context, in I) (O, error)

	// Healthy reports whether the backend is currently reachable.
	Healthy(ctx context.Context) bool
}
