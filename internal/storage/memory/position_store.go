package memory

import (
	"context"
	"sort"
	"sync"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
// At most one HOLDING position may exist per (token, chain).
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by execution_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

var _ storage.PositionStore = (*PositionStore)(nil)

// Insert adds a HOLDING position.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.ExecutionID == "" || p.Token == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ExecutionID]; exists {
		return storage.ErrDuplicateKey
	}
	if p.Status == domain.PositionHolding && s.holdingLocked(p.Token, p.Chain) > 0 {
		return storage.ErrDuplicateKey
	}

	c := *p
	s.data[p.ExecutionID] = &c
	return nil
}

// GetByExecutionID retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByExecutionID(_ context.Context, executionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[executionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *p
	return &c, nil
}

// Update replaces a position. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(_ context.Context, p *domain.Position) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[p.ExecutionID]; !ok {
		return storage.ErrNotFound
	}
	c := *p
	s.data[p.ExecutionID] = &c
	return nil
}

// CountHoldingByToken counts HOLDING positions for (token, chain).
func (s *PositionStore) CountHoldingByToken(_ context.Context, token, chain string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.holdingLocked(token, chain), nil
}

func (s *PositionStore) holdingLocked(token, chain string) int {
	key := domain.TokenKey(token, chain)
	count := 0
	for _, p := range s.data {
		if p.Status == domain.PositionHolding && domain.TokenKey(p.Token, p.Chain) == key {
			count++
		}
	}
	return count
}

// CountHoldingByStrategy counts HOLDING positions owned by a strategy.
func (s *PositionStore) CountHoldingByStrategy(_ context.Context, strategyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.data {
		if p.Status == domain.PositionHolding && p.StrategyID == strategyID {
			count++
		}
	}
	return count, nil
}

// GetHolding retrieves all HOLDING positions, ordered by opened_at ASC.
func (s *PositionStore) GetHolding(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Status == domain.PositionHolding {
			c := *p
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OpenedAt.Equal(result[j].OpenedAt) {
			return result[i].ExecutionID < result[j].ExecutionID
		}
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}
