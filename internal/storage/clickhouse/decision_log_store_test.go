package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

func TestDecisionLogStore_AppendAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDecisionLogStore(conn)
	ctx := context.Background()

	// Empty append is a no-op
	require.NoError(t, store.Append(ctx, nil))

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	decisions := []*domain.Decision{
		{DecisionID: "d2", SignalID: "S1", StrategyID: "s1", UserID: "U1", Stage: domain.StageExecution, Passed: true, CreatedAt: base.Add(time.Second)},
		{DecisionID: "d1", SignalID: "S1", StrategyID: "s1", UserID: "U1", Stage: domain.StageIntake, Passed: false, Level: "CRITICAL", Code: "BLACKLISTED", Reason: "token blacklisted", CreatedAt: base},
		{DecisionID: "d3", SignalID: "S2", StrategyID: "s1", UserID: "U1", Stage: domain.StageIntake, Passed: true, CreatedAt: base},
	}
	require.NoError(t, store.Append(ctx, decisions))

	got, err := store.GetBySignal(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "d1", got[0].DecisionID)
	assert.False(t, got[0].Passed)
	assert.Equal(t, "CRITICAL", got[0].Level)
	assert.Equal(t, "BLACKLISTED", got[0].Code)
	assert.Equal(t, base, got[0].CreatedAt)
	assert.Equal(t, "d2", got[1].DecisionID)
	assert.True(t, got[1].Passed)
}

func TestDecisionLogStore_DuplicateIDsCollapsed(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDecisionLogStore(conn)
	ctx := context.Background()

	d := &domain.Decision{DecisionID: "dup", SignalID: "S1", Stage: domain.StageIntake, Passed: true, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}

	require.NoError(t, store.Append(ctx, []*domain.Decision{d, d}))
	require.NoError(t, store.Append(ctx, []*domain.Decision{d}))

	got, err := store.GetBySignal(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDecisionLogStore_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDecisionLogStore(conn)
	err := store.Append(context.Background(), []*domain.Decision{{SignalID: "S1"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
