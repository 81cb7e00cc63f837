package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// StrategyStore is an in-memory implementation of storage.StrategyStore.
type StrategyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StrategyConfig // keyed by id
}

// NewStrategyStore creates a new in-memory strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{
		data: make(map[string]*domain.StrategyConfig),
	}
}

var _ storage.StrategyStore = (*StrategyStore)(nil)

func cloneStrategy(s *domain.StrategyConfig) *domain.StrategyConfig {
	c := *s
	c.Chains = append([]string(nil), s.Chains...)
	c.Whitelist = domain.NewSymbolSet(s.Whitelist.Slice()...)
	c.Blacklist = domain.NewSymbolSet(s.Blacklist.Slice()...)
	if s.PausedUntil != nil {
		t := *s.PausedUntil
		c.PausedUntil = &t
	}
	return &c
}

// Upsert inserts or replaces a strategy config by id.
func (s *StrategyStore) Upsert(_ context.Context, cfg *domain.StrategyConfig) error {
	if cfg == nil || cfg.ID == "" || cfg.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[cfg.ID] = cloneStrategy(cfg)
	return nil
}

// GetByID retrieves a strategy by its ID. Returns ErrNotFound if not exists.
func (s *StrategyStore) GetByID(_ context.Context, id string) (*domain.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneStrategy(cfg), nil
}

// GetEnabled retrieves all enabled strategies, ordered by id.
func (s *StrategyStore) GetEnabled(_ context.Context) ([]*domain.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StrategyConfig
	for _, cfg := range s.data {
		if cfg.Enabled {
			result = append(result, cloneStrategy(cfg))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SetPause activates the circuit breaker until the given time.
func (s *StrategyStore) SetPause(_ context.Context, id string, until time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	cfg.PausedUntil = &until
	cfg.PauseReason = reason
	return nil
}

// ClearPause removes the circuit breaker. Returns ErrNotFound if not exists.
func (s *StrategyStore) ClearPause(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	cfg.PausedUntil = nil
	cfg.PauseReason = ""
	return nil
}

// ClearExpiredPauses removes pauses that ended before now.
func (s *StrategyStore) ClearExpiredPauses(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for _, cfg := range s.data {
		if cfg.PausedUntil != nil && !cfg.PausedUntil.After(now) {
			cfg.PausedUntil = nil
			cfg.PauseReason = ""
			cleared++
		}
	}
	return cleared, nil
}
