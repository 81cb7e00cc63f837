package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

func createTestPosition(executionID, strategyID, token, chain string) *domain.Position {
	return &domain.Position{
		ExecutionID:     executionID,
		StrategyID:      strategyID,
		Token:           token,
		Chain:           chain,
		EntryPrice:      2.0,
		HighestPrice:    2.0,
		StopLossPrice:   1.8,
		TakeProfitPrice: 2.6,
		StopLossType:    domain.StopLossTrailing,
		Status:          domain.PositionHolding,
		OpenedAt:        ts(0),
	}
}

func TestPositionStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	p := createTestPosition("e1", "s1", "CAKE", "bsc")
	require.NoError(t, store.Insert(ctx, p))

	got, err := store.GetByExecutionID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.StopLossTrailing, got.StopLossType)
	assert.InDelta(t, 1.8, got.StopLossPrice, 1e-9)
	assert.Equal(t, domain.PositionHolding, got.Status)
	assert.True(t, p.OpenedAt.Equal(got.OpenedAt))

	_, err = store.GetByExecutionID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_OneHoldingPerToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	first := createTestPosition("e1", "s1", "CAKE", "bsc")
	require.NoError(t, store.Insert(ctx, first))

	// Suffix-normalized symbol maps to the same token
	err := store.Insert(ctx, createTestPosition("e2", "s2", "CAKEUSDT", "bsc"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, store.Insert(ctx, createTestPosition("e3", "s2", "CAKE", "base")))

	first.Status = domain.PositionExited
	require.NoError(t, store.Update(ctx, first))
	require.NoError(t, store.Insert(ctx, createTestPosition("e2", "s2", "CAKEUSDT", "bsc")))

	n, err := store.CountHoldingByToken(ctx, "cake", "bsc")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.CountHoldingByStrategy(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	holding, err := store.GetHolding(ctx)
	require.NoError(t, err)
	assert.Len(t, holding, 2)
}

func TestPositionStore_UpdateTrailingStop(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	p := createTestPosition("e1", "s1", "CAKE", "bsc")
	require.NoError(t, store.Insert(ctx, p))

	p.HighestPrice = 2.5
	p.StopLossPrice = 2.25
	p.TrailingStopActivated = true
	require.NoError(t, store.Update(ctx, p))

	got, err := store.GetByExecutionID(ctx, "e1")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got.HighestPrice, 1e-9)
	assert.InDelta(t, 2.25, got.StopLossPrice, 1e-9)
	assert.True(t, got.TrailingStopActivated)

	assert.ErrorIs(t, store.Update(ctx, createTestPosition("missing", "s1", "X", "bsc")), storage.ErrNotFound)
}
