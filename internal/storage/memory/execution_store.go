package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// ExecutionStore is an in-memory implementation of storage.ExecutionStore.
type ExecutionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Execution // keyed by execution_id
}

// NewExecutionStore creates a new in-memory execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		data: make(map[string]*domain.Execution),
	}
}

var _ storage.ExecutionStore = (*ExecutionStore)(nil)

func cloneExecution(e *domain.Execution) *domain.Execution {
	c := *e
	if e.ExitedAt != nil {
		t := *e.ExitedAt
		c.ExitedAt = &t
	}
	return &c
}

// Insert adds a new execution. Returns ErrDuplicateKey if execution_id exists.
func (s *ExecutionStore) Insert(_ context.Context, e *domain.Execution) error {
	if e == nil || e.ExecutionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ExecutionID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[e.ExecutionID] = cloneExecution(e)
	return nil
}

// GetByID retrieves an execution. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetByID(_ context.Context, executionID string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[executionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneExecution(e), nil
}

// Update replaces an execution. Returns ErrNotFound if not exists.
func (s *ExecutionStore) Update(_ context.Context, e *domain.Execution) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[e.ExecutionID]; !ok {
		return storage.ErrNotFound
	}
	s.data[e.ExecutionID] = cloneExecution(e)
	return nil
}

// Delete removes an execution. Returns ErrNotFound if not exists.
func (s *ExecutionStore) Delete(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[executionID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data, executionID)
	return nil
}

// GetBySignal retrieves all executions for a signal, ordered by created_at ASC.
func (s *ExecutionStore) GetBySignal(_ context.Context, signalID string) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Execution
	for _, e := range s.data {
		if e.SignalID == signalID {
			result = append(result, cloneExecution(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ExecutionID < result[j].ExecutionID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CountInFlightByToken counts PENDING/SUBMITTING/SUBMITTED executions for (token, chain).
func (s *ExecutionStore) CountInFlightByToken(_ context.Context, token, chain string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.TokenKey(token, chain)
	count := 0
	for _, e := range s.data {
		if e.Status.InFlight() && domain.TokenKey(e.Token, e.Chain) == key {
			count++
		}
	}
	return count, nil
}

// DailyPnL sums realized PnL and entry notional of executions exited within the day.
func (s *ExecutionStore) DailyPnL(_ context.Context, strategyID string, dayStart time.Time) (float64, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayEnd := dayStart.Add(24 * time.Hour)
	var pnl, notional float64
	for _, e := range s.data {
		if e.StrategyID != strategyID || e.Status != domain.ExecutionExited || e.ExitedAt == nil {
			continue
		}
		if e.ExitedAt.Before(dayStart) || !e.ExitedAt.Before(dayEnd) {
			continue
		}
		pnl += e.RealizedPnL
		notional += e.AmountUSD
	}
	return pnl, notional, nil
}

// OpenExposure sums AmountUSD of a strategy's SUBMITTED and HOLDING executions for token.
func (s *ExecutionStore) OpenExposure(_ context.Context, strategyID, token string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbol := domain.NormalizeSymbol(token)
	var total float64
	for _, e := range s.data {
		if e.StrategyID != strategyID || domain.NormalizeSymbol(e.Token) != symbol {
			continue
		}
		if e.Status == domain.ExecutionSubmitted || e.Status == domain.ExecutionHolding {
			total += e.AmountUSD
		}
	}
	return total, nil
}
