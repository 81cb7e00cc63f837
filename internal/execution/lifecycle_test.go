package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/execution"
	"dex-copy-engine/internal/exitcalc"
	"dex-copy-engine/internal/storage"
)

func submitted(t *testing.T, f *fixture, p *execution.Pipeline) string {
	t.Helper()
	res, err := p.ExecuteUserTrade(context.Background(), signal("S1"), account("U1", 100), execution.TradeRef{TriggerPrice: 1.05})
	require.NoError(t, err)
	require.Equal(t, execution.OutcomeSubmitted, res.Outcome)
	return res.ExecutionID
}

func TestPositionLifecycle(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	ctx := context.Background()
	id := submitted(t, f, p)

	pos, err := p.ConfirmEntry(ctx, id, 1.0, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionHolding, pos.Status)
	assert.Equal(t, domain.StopLossFixed, pos.StopLossType)
	assert.InDelta(t, 0.9, pos.StopLossPrice, 1e-9)
	assert.InDelta(t, 1.2, pos.TakeProfitPrice, 1e-9)

	exec, err := f.executions.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionHolding, exec.Status)
	assert.Equal(t, 1.0, exec.EntryPrice)

	// +15% activates the trailing stop at 1.15 * 0.9
	reason, hit, err := p.MarkPrice(ctx, id, 1.15)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, reason)

	stored, err := f.positions.GetByExecutionID(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.TrailingStopActivated)
	assert.InDelta(t, 1.035, stored.StopLossPrice, 1e-9)

	reason, hit, err = p.MarkPrice(ctx, id, 1.03)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, exitcalc.ExitTrailingStop, reason)

	exited, err := p.RecordExit(ctx, id, 1.03, "0xexit")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionExited, exited.Status)
	assert.InDelta(t, 3.0, exited.RealizedPnL, 1e-9)
	require.NotNil(t, exited.ExitedAt)

	stored, err = f.positions.GetByExecutionID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionExited, stored.Status)

	day := time.Now().UTC().Truncate(24 * time.Hour)
	pnl, notional, err := f.executions.DailyPnL(ctx, "strat-U1", day)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, pnl, 1e-9)
	assert.Equal(t, 100.0, notional)
}

func TestConfirmEntry_RequiresSubmitted(t *testing.T) {
	f := newFixture()
	f.signer.err = assert.AnError
	p := f.pipeline(t)
	ctx := context.Background()

	res, err := p.ExecuteUserTrade(ctx, signal("S1"), account("U1", 100), execution.TradeRef{})
	require.NoError(t, err)
	require.Equal(t, execution.OutcomeFailed, res.Outcome)

	_, err = p.ConfirmEntry(ctx, res.ExecutionID, 1.0, nil)
	assert.ErrorIs(t, err, execution.ErrInvalidTransition)

	_, err = p.ConfirmEntry(ctx, "missing", 1.0, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConfirmEntry_SecondPositionForTokenRejected(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	ctx := context.Background()
	id := submitted(t, f, p)

	require.NoError(t, f.positions.Insert(ctx, &domain.Position{
		ExecutionID: "elsewhere",
		Token:       "CAKE",
		Chain:       "bsc",
		Status:      domain.PositionHolding,
	}))

	_, err := p.ConfirmEntry(ctx, id, 1.0, nil)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	exec, err := f.executions.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSubmitted, exec.Status)
}

func TestRecordExit_RequiresHolding(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	id := submitted(t, f, p)

	_, err := p.RecordExit(context.Background(), id, 1.1, "0xexit")
	assert.ErrorIs(t, err, execution.ErrInvalidTransition)
}
