package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

func TestSignalStore_InsertDefaultsAndDuplicate(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	sig := &domain.Signal{ID: "S1", Token: "CAKE", Chain: "bsc", TakeProfit: []float64{2, 3}}
	if err := store.Insert(ctx, sig); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, sig); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, err := store.GetByID(ctx, "S1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.SignalStatusActive {
		t.Errorf("expected ACTIVE default, got %s", got.Status)
	}

	got.TakeProfit[0] = 99
	again, _ := store.GetByID(ctx, "S1")
	if again.TakeProfit[0] != 2 {
		t.Error("take profit slice shared with caller")
	}
}

func TestSignalStore_LatestPrice(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	_ = store.Insert(ctx, &domain.Signal{ID: "S1", Token: "CAKE", Chain: "bsc"})
	_ = store.Insert(ctx, &domain.Signal{ID: "S2", Token: "CAKEUSDT", Chain: "bsc"})

	if _, ok, _ := store.LatestPrice(ctx, "CAKE", "bsc"); ok {
		t.Error("expected no price before updates")
	}

	clock = clock.Add(time.Second)
	_ = store.UpdatePrice(ctx, "S1", 1.5)
	clock = clock.Add(time.Second)
	_ = store.UpdatePrice(ctx, "S2", 1.7)

	price, ok, err := store.LatestPrice(ctx, "cake", "bsc")
	if err != nil || !ok {
		t.Fatalf("LatestPrice failed: ok=%v err=%v", ok, err)
	}
	if price != 1.7 {
		t.Errorf("expected most recent price 1.7, got %f", price)
	}
}

func TestSignalStore_TriggerActiveByToken(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.Signal{ID: "S1", Token: "CAKE", Chain: "bsc"})
	_ = store.Insert(ctx, &domain.Signal{ID: "S2", Token: "CAKE", Chain: "bsc"})
	_ = store.Insert(ctx, &domain.Signal{ID: "S3", Token: "CAKE", Chain: "bsc", Status: domain.SignalStatusExpired})
	_ = store.Insert(ctx, &domain.Signal{ID: "S4", Token: "DOGE", Chain: "bsc"})

	n, err := store.TriggerActiveByToken(ctx, "CAKE", "bsc", "S1")
	if err != nil {
		t.Fatalf("TriggerActiveByToken failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 signal flipped, got %d", n)
	}

	s1, _ := store.GetByID(ctx, "S1")
	s2, _ := store.GetByID(ctx, "S2")
	s3, _ := store.GetByID(ctx, "S3")
	s4, _ := store.GetByID(ctx, "S4")
	if s1.Status != domain.SignalStatusActive || s2.Status != domain.SignalStatusTriggered ||
		s3.Status != domain.SignalStatusExpired || s4.Status != domain.SignalStatusActive {
		t.Errorf("unexpected statuses: %s %s %s %s", s1.Status, s2.Status, s3.Status, s4.Status)
	}

	active, _ := store.GetActive(ctx)
	if len(active) != 2 {
		t.Errorf("expected 2 active signals, got %d", len(active))
	}
}

func TestSignalStore_GetExpired(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()
	now := time.Now()

	_ = store.Insert(ctx, &domain.Signal{ID: "old", ExpiresAt: now.Add(-time.Minute)})
	_ = store.Insert(ctx, &domain.Signal{ID: "fresh", ExpiresAt: now.Add(time.Minute)})
	_ = store.Insert(ctx, &domain.Signal{ID: "forever"})

	expired, err := store.GetExpired(ctx, now)
	if err != nil {
		t.Fatalf("GetExpired failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "old" {
		t.Errorf("expected only 'old', got %v", expired)
	}
}
