package memory

import (
	"context"
	"sort"
	"sync"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// BatchStore is an in-memory implementation of storage.BatchStore.
type BatchStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Batch
}

// NewBatchStore creates a new in-memory batch store.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		data: make(map[string]*domain.Batch),
	}
}

var _ storage.BatchStore = (*BatchStore)(nil)

// Insert adds a new batch. Returns ErrDuplicateKey if id exists.
func (s *BatchStore) Insert(_ context.Context, b *domain.Batch) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[b.ID]; exists {
		return storage.ErrDuplicateKey
	}
	c := *b
	s.data[b.ID] = &c
	return nil
}

// GetByID retrieves a batch. Returns ErrNotFound if not exists.
func (s *BatchStore) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *b
	return &c, nil
}

// Update replaces a batch. Returns ErrNotFound if not exists.
func (s *BatchStore) Update(_ context.Context, b *domain.Batch) error {
	if b == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[b.ID]; !ok {
		return storage.ErrNotFound
	}
	c := *b
	s.data[b.ID] = &c
	return nil
}

// GetBySignal retrieves all batches for a signal, ordered by created_at ASC.
func (s *BatchStore) GetBySignal(_ context.Context, signalID string) ([]*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Batch
	for _, b := range s.data {
		if b.SignalID == signalID {
			c := *b
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
