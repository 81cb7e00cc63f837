package memory

import (
	"context"
	"sort"
	"sync"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// DecisionLogStore is an in-memory implementation of storage.DecisionLogStore.
type DecisionLogStore struct {
	mu   sync.RWMutex
	data []*domain.Decision
	seen map[string]struct{}
}

// NewDecisionLogStore creates a new in-memory decision log.
func NewDecisionLogStore() *DecisionLogStore {
	return &DecisionLogStore{
		seen: make(map[string]struct{}),
	}
}

var _ storage.DecisionLogStore = (*DecisionLogStore)(nil)

// Append adds decisions. Duplicate decision ids are ignored.
func (s *DecisionLogStore) Append(_ context.Context, decisions []*domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range decisions {
		if d == nil || d.DecisionID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := s.seen[d.DecisionID]; dup {
			continue
		}
		s.seen[d.DecisionID] = struct{}{}
		c := *d
		s.data = append(s.data, &c)
	}
	return nil
}

// GetBySignal retrieves decisions for a signal, ordered by created_at ASC.
func (s *DecisionLogStore) GetBySignal(_ context.Context, signalID string) ([]*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Decision
	for _, d := range s.data {
		if d.SignalID == signalID {
			c := *d
			result = append(result, &c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
