package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Signal // keyed by id
	now  func() time.Time
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		data: make(map[string]*domain.Signal),
		now:  time.Now,
	}
}

var _ storage.SignalStore = (*SignalStore)(nil)

func cloneSignal(s *domain.Signal) *domain.Signal {
	c := *s
	c.TakeProfit = append([]float64(nil), s.TakeProfit...)
	return &c
}

// Insert adds a new signal. Returns ErrDuplicateKey if id exists.
func (s *SignalStore) Insert(_ context.Context, sig *domain.Signal) error {
	if sig == nil || sig.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sig.ID]; exists {
		return storage.ErrDuplicateKey
	}

	c := cloneSignal(sig)
	if c.Status == "" {
		c.Status = domain.SignalStatusActive
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	s.data[sig.ID] = c
	return nil
}

// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(_ context.Context, id string) (*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSignal(sig), nil
}

// GetActive retrieves all ACTIVE signals, ordered by created_at ASC.
func (s *SignalStore) GetActive(_ context.Context) ([]*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Signal
	for _, sig := range s.data {
		if sig.Status == domain.SignalStatusActive {
			result = append(result, cloneSignal(sig))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateStatus sets status and rejection reason. Returns ErrNotFound if not exists.
func (s *SignalStore) UpdateStatus(_ context.Context, id string, status domain.SignalStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	sig.Status = status
	sig.RejectionReason = reason
	sig.UpdatedAt = s.now()
	return nil
}

// UpdatePrice records the latest observed price for a signal.
func (s *SignalStore) UpdatePrice(_ context.Context, id string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	sig.LastPrice = price
	sig.UpdatedAt = s.now()
	return nil
}

// LatestPrice returns the most recently updated non-zero price for (token, chain).
func (s *SignalStore) LatestPrice(_ context.Context, token, chain string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := domain.TokenKey(token, chain)
	var best *domain.Signal
	for _, sig := range s.data {
		if sig.LastPrice <= 0 || domain.TokenKey(sig.Token, sig.Chain) != key {
			continue
		}
		if best == nil || sig.UpdatedAt.After(best.UpdatedAt) {
			best = sig
		}
	}
	if best == nil {
		return 0, false, nil
	}
	return best.LastPrice, true, nil
}

// TriggerActiveByToken flips other ACTIVE signals for (token, chain) to TRIGGERED.
func (s *SignalStore) TriggerActiveByToken(_ context.Context, token, chain, exceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.TokenKey(token, chain)
	changed := 0
	for id, sig := range s.data {
		if id == exceptID || sig.Status != domain.SignalStatusActive {
			continue
		}
		if domain.TokenKey(sig.Token, sig.Chain) != key {
			continue
		}
		sig.Status = domain.SignalStatusTriggered
		sig.RejectionReason = "triggered by " + exceptID
		sig.UpdatedAt = s.now()
		changed++
	}
	return changed, nil
}

// GetExpired returns ACTIVE signals whose expiry is at or before now.
func (s *SignalStore) GetExpired(_ context.Context, now time.Time) ([]*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Signal
	for _, sig := range s.data {
		if sig.Status == domain.SignalStatusActive && sig.Expired(now) {
			result = append(result, cloneSignal(sig))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
