package triage

import "context"

// Store is the persistence interface for verdicts.
type Store interface {
	Get(ctx context.Context, id string) (*Verdict, bool, error)
	GetByAlertID(ctx context.Context, alertID string) (*Verdict, bool, error)
	Put(ctx context.Context, v *Verdict) error
}
