package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

func TestExecutionStore_InsertAndGet(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()

	e := &domain.Execution{
		ExecutionID: "exec1",
		StrategyID:  "strat1",
		UserID:      "U1",
		SignalID:    "S1",
		Token:       "CAKE",
		Chain:       "bsc",
		Status:      domain.ExecutionPending,
		AmountUSD:   100,
	}

	if err := store.Insert(ctx, e); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "exec1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.ExecutionPending || got.AmountUSD != 100 {
		t.Errorf("unexpected execution: %+v", got)
	}

	// Mutating the returned copy must not leak into the store
	got.Status = domain.ExecutionFailed
	again, _ := store.GetByID(ctx, "exec1")
	if again.Status != domain.ExecutionPending {
		t.Errorf("store returned shared pointer")
	}
}

func TestExecutionStore_DuplicateKeyUnderConcurrency(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, dup int

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Insert(ctx, &domain.Execution{ExecutionID: "same", Status: domain.ExecutionPending})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrDuplicateKey):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dup != writers-1 {
		t.Errorf("expected 1 insert and %d duplicates, got %d and %d", writers-1, ok, dup)
	}
}

func TestExecutionStore_UpdateDelete(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()

	if err := store.Update(ctx, &domain.Execution{ExecutionID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on update, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on delete, got %v", err)
	}

	e := &domain.Execution{ExecutionID: "exec1", Status: domain.ExecutionPending}
	_ = store.Insert(ctx, e)

	e.Status = domain.ExecutionFailed
	e.ErrorMessage = "boom"
	if err := store.Update(ctx, e); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ := store.GetByID(ctx, "exec1")
	if got.Status != domain.ExecutionFailed || got.ErrorMessage != "boom" {
		t.Errorf("update not applied: %+v", got)
	}

	if err := store.Delete(ctx, "exec1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetByID(ctx, "exec1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestExecutionStore_CountInFlightByToken(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()

	for i, st := range []domain.ExecutionStatus{
		domain.ExecutionPending,
		domain.ExecutionSubmitting,
		domain.ExecutionSubmitted,
		domain.ExecutionHolding,
		domain.ExecutionFailed,
		domain.ExecutionInsufficientBalance,
	} {
		_ = store.Insert(ctx, &domain.Execution{
			ExecutionID: string(rune('a' + i)),
			Token:       "CAKE",
			Chain:       "bsc",
			Status:      st,
		})
	}
	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "other", Token: "CAKE", Chain: "base", Status: domain.ExecutionPending})

	n, err := store.CountInFlightByToken(ctx, "cakeusdt", "BSC")
	if err != nil {
		t.Fatalf("CountInFlightByToken failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 in-flight executions, got %d", n)
	}
}

func TestExecutionStore_DailyPnL(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	inDay := day.Add(5 * time.Hour)
	yesterday := day.Add(-time.Hour)

	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "e1", StrategyID: "s1", Status: domain.ExecutionExited, AmountUSD: 100, RealizedPnL: -20, ExitedAt: &inDay})
	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "e2", StrategyID: "s1", Status: domain.ExecutionExited, AmountUSD: 100, RealizedPnL: 5, ExitedAt: &inDay})
	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "e3", StrategyID: "s1", Status: domain.ExecutionExited, AmountUSD: 100, RealizedPnL: -50, ExitedAt: &yesterday})
	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "e4", StrategyID: "s2", Status: domain.ExecutionExited, AmountUSD: 100, RealizedPnL: -50, ExitedAt: &inDay})

	pnl, notional, err := store.DailyPnL(ctx, "s1", day)
	if err != nil {
		t.Fatalf("DailyPnL failed: %v", err)
	}
	if pnl != -15 || notional != 200 {
		t.Errorf("expected pnl=-15 notional=200, got pnl=%f notional=%f", pnl, notional)
	}
}

func TestExecutionStore_OpenExposure(t *testing.T) {
	store := NewExecutionStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "e1", StrategyID: "s1", Token: "CAKE", Status: domain.ExecutionHolding, AmountUSD: 100})
	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "e2", StrategyID: "s1", Token: "CAKEUSDT", Status: domain.ExecutionSubmitted, AmountUSD: 50})
	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "e3", StrategyID: "s1", Token: "CAKE", Status: domain.ExecutionExited, AmountUSD: 70})
	_ = store.Insert(ctx, &domain.Execution{ExecutionID: "e4", StrategyID: "s2", Token: "CAKE", Status: domain.ExecutionHolding, AmountUSD: 70})

	got, err := store.OpenExposure(ctx, "s1", "cake")
	if err != nil {
		t.Fatalf("OpenExposure failed: %v", err)
	}
	if got != 150 {
		t.Errorf("expected exposure 150, got %f", got)
	}
}
