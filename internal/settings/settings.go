// Package settings holds the runtime assistant configuration and hands out
// immutable snapshots of it.
package settings

import (
	"context"
	"fmt"
	"sync"

	"benchchat/internal/domain"
	"benchchat/internal/store"
)

// Store serves point-in-time snapshots of the assistant settings. Readers
// never observe a partially applied update; writers persist first and swap
// the in-memory copy only on success.
type Store struct {
	repo store.Repository

	mu      sync.RWMutex
	current domain.Settings
}

// NewStore loads persisted settings, seeding from defaults when the service
// boots for the first time.
func NewStore(ctx context.Context, repo store.Repository, defaults domain.Settings) (*Store, error) {
	persisted, err := repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if persisted == nil {
		if err := repo.SaveSettings(ctx, &defaults); err != nil {
			return nil, fmt.Errorf("seed settings: %w", err)
		}
		persisted = &defaults
	}
	return &Store{repo: repo, current: *persisted}, nil
}

// Snapshot returns a copy of the current settings. The copy stays valid for
// the caller's whole operation regardless of concurrent updates.
func (s *Store) Snapshot() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies a mutation atomically: the change is persisted first, then
// swapped in for subsequent snapshots. On persistence failure the in-memory
// settings are left untouched.
func (s *Store) Update(ctx context.Context, apply func(*domain.Settings)) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	apply(&next)

	if err := s.repo.SaveSettings(ctx, &next); err != nil {
		return s.current, fmt.Errorf("persist settings: %w", err)
	}
	s.current = next
	return next, nil
}
