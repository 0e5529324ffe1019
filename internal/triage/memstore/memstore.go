// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/aegis/internal/triage"
)

// Store holds verdicts in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	verdicts map[string]*triage.Verdict // verdict ID -> verdict
	byAlert  map[string]string          // alert ID -> latest verdict ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		verdicts: make(map[string]*triage.Verdict),
		byAlert:  make(map[string]string),
	}
}

// Get retrieves a verdict by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Verdict, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verdicts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *v
	return &cp, true, nil
}

// GetByAlertID retrieves the most recent verdict for an alert. Returns a copy.
func (s *Store) GetByAlertID(_ context.Context, alertID string) (*triage.Verdict, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAlert[alertID]
	if !ok {
		return nil, false, nil
	}
	v := s.verdicts[id]
	cp := *v
	return &cp, true, nil
}

// Put stores a copy of the verdict.
func (s *Store) Put(_ context.Context, v *triage.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.verdicts[v.ID] = &cp
	s.byAlert[v.AlertID] = v.ID
	return nil
}
