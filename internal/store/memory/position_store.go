// Package memory implements domain store interfaces in process memory. It
// backs dryrun and replay modes and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/basisbot/internal/domain"
)

// PositionStore implements domain.PositionStore with a mutex-guarded map.
// Writes are validated against the stored row exactly like the Postgres
// store, so both reject the same illegal transitions.
type PositionStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{rows: make(map[string]domain.Position)}
}

// Upsert writes pos after checking the state transition.
func (s *PositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *domain.Position
	if cur, ok := s.rows[pos.Symbol]; ok {
		prev = &cur
	}
	if err := domain.ValidateTransition(prev, pos); err != nil {
		return fmt.Errorf("memory: upsert position %s: %w", pos.Symbol, err)
	}
	s.rows[pos.Symbol] = pos
	return nil
}

// Get returns the row for symbol or domain.ErrNotFound.
func (s *PositionStore) Get(_ context.Context, symbol string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.rows[symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// ListOpen returns all non-CLOSED rows ordered by symbol.
func (s *PositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Position, 0, len(s.rows))
	for _, pos := range s.rows {
		if pos.State != domain.PositionClosed {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
