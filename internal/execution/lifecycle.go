package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/exitcalc"
	"dex-copy-engine/internal/storage"
)

// ErrInvalidTransition is returned when an execution is not in the state an operation expects.
var ErrInvalidTransition = errors.New("invalid execution state transition")

// ConfirmEntry records an on-chain fill: SUBMITTED -> HOLDING. It opens the
// position with exit levels computed from the fill price and price history.
func (p *Pipeline) ConfirmEntry(ctx context.Context, executionID string, fillPrice float64, history []domain.Candle) (*domain.Position, error) {
	unlock := p.keys.Lock(executionID)
	defer unlock()

	exec, err := p.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if exec.Status != domain.ExecutionSubmitted {
		return nil, fmt.Errorf("%w: confirm %s execution", ErrInvalidTransition, exec.Status)
	}

	levels, err := exitcalc.Calculate(fillPrice, history, p.exitOpts)
	if err != nil {
		return nil, fmt.Errorf("exit levels: %w", err)
	}

	now := p.now()
	pos := &domain.Position{
		ExecutionID:           exec.ExecutionID,
		StrategyID:            exec.StrategyID,
		Token:                 exec.Token,
		Chain:                 exec.Chain,
		EntryPrice:            fillPrice,
		HighestPrice:          fillPrice,
		StopLossPrice:         levels.StopLossPrice,
		TakeProfitPrice:       levels.TakeProfitPrice,
		StopLossType:          levels.StopLossType,
		TrailingStopActivated: levels.TrailingStopActivated,
		Status:                domain.PositionHolding,
		OpenedAt:              now,
		UpdatedAt:             now,
	}
	if err := p.positions.Insert(ctx, pos); err != nil {
		return nil, fmt.Errorf("open position: %w", err)
	}

	exec.Status = domain.ExecutionHolding
	exec.EntryPrice = fillPrice
	if err := p.update(ctx, exec); err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"execution_id": executionID,
		"entry":        fillPrice,
		"stop_loss":    levels.StopLossPrice,
		"take_profit":  levels.TakeProfitPrice,
		"type":         levels.StopLossType,
	}).Info("position opened")
	return pos, nil
}

// MarkPrice applies a price update to an open position, ratcheting the
// trailing stop, and reports whether an exit level was hit.
func (p *Pipeline) MarkPrice(ctx context.Context, executionID string, price float64) (string, bool, error) {
	unlock := p.keys.Lock(executionID)
	defer unlock()

	pos, err := p.positions.GetByExecutionID(ctx, executionID)
	if err != nil {
		return "", false, fmt.Errorf("get position: %w", err)
	}
	if pos.Status != domain.PositionHolding {
		return "", false, fmt.Errorf("%w: position is %s", ErrInvalidTransition, pos.Status)
	}

	if exitcalc.UpdateTrailingStop(pos, price, p.trailing) {
		pos.UpdatedAt = p.now()
		if err := p.positions.Update(ctx, pos); err != nil {
			return "", false, fmt.Errorf("update position: %w", err)
		}
	}
	reason, hit := exitcalc.ShouldExit(pos, price)
	return reason, hit, nil
}

// RecordExit closes a position: HOLDING -> EXITED with realized PnL.
func (p *Pipeline) RecordExit(ctx context.Context, executionID string, exitPrice float64, txHash string) (*domain.Execution, error) {
	unlock := p.keys.Lock(executionID)
	defer unlock()

	exec, err := p.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if exec.Status != domain.ExecutionHolding {
		return nil, fmt.Errorf("%w: exit %s execution", ErrInvalidTransition, exec.Status)
	}
	if exitPrice <= 0 || exec.EntryPrice <= 0 {
		return nil, fmt.Errorf("%w: entry %g exit %g", exitcalc.ErrInvalidPrice, exec.EntryPrice, exitPrice)
	}

	now := p.now()
	exec.Status = domain.ExecutionExited
	exec.ExitPrice = exitPrice
	exec.ExitTxHash = txHash
	exec.RealizedPnL = exec.AmountUSD * (exitPrice/exec.EntryPrice - 1)
	exec.ExitedAt = &now
	if err := p.update(ctx, exec); err != nil {
		return nil, err
	}

	pos, err := p.positions.GetByExecutionID(ctx, executionID)
	switch {
	case err == nil:
		pos.Status = domain.PositionExited
		pos.UpdatedAt = now
		if err := p.positions.Update(ctx, pos); err != nil {
			return nil, fmt.Errorf("close position: %w", err)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("get position: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"execution_id": executionID,
		"exit":         exitPrice,
		"pnl":          exec.RealizedPnL,
	}).Info("position exited")
	return exec, nil
}
