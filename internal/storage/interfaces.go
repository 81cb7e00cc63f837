package storage

import (
	"context"
	"time"

	"dex-copy-engine/internal/domain"
)

// SignalStore provides access to signals storage.
type SignalStore interface {
	// Insert adds a new signal. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, s *domain.Signal) error

	// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Signal, error)

	// GetActive retrieves all ACTIVE signals, ordered by created_at ASC.
	GetActive(ctx context.Context) ([]*domain.Signal, error)

	// GetExpired retrieves ACTIVE signals whose expires_at is at or before now.
	GetExpired(ctx context.Context, now time.Time) ([]*domain.Signal, error)

	// UpdateStatus sets status and rejection reason. Returns ErrNotFound if not exists.
	UpdateStatus(ctx context.Context, id string, status domain.SignalStatus, reason string) error

	// UpdatePrice records the latest observed price for a signal.
	UpdatePrice(ctx context.Context, id string, price float64) error

	// LatestPrice returns the most recently updated non-zero price among
	// signals for (token, chain). ok is false when no price is known.
	LatestPrice(ctx context.Context, token, chain string) (price float64, ok bool, err error)

	// TriggerActiveByToken flips every ACTIVE signal for (token, chain)
	// except exceptID to TRIGGERED. Returns the number of signals changed.
	TriggerActiveByToken(ctx context.Context, token, chain, exceptID string) (int, error)
}

// StrategyStore provides access to strategy configs storage.
type StrategyStore interface {
	// Upsert inserts or replaces a strategy config by id.
	Upsert(ctx context.Context, s *domain.StrategyConfig) error

	// GetByID retrieves a strategy by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.StrategyConfig, error)

	// GetEnabled retrieves all enabled strategies, ordered by id.
	GetEnabled(ctx context.Context) ([]*domain.StrategyConfig, error)

	// SetPause activates the circuit breaker until the given time.
	SetPause(ctx context.Context, id string, until time.Time, reason string) error

	// ClearPause removes the circuit breaker. Returns ErrNotFound if not exists.
	ClearPause(ctx context.Context, id string) error

	// ClearExpiredPauses removes pauses that ended before now.
	ClearExpiredPauses(ctx context.Context, now time.Time) (int, error)
}

// ExecutionStore provides access to executions storage.
type ExecutionStore interface {
	// Insert adds a new execution. Returns ErrDuplicateKey if execution_id exists.
	// Must hold under concurrent writers.
	Insert(ctx context.Context, e *domain.Execution) error

	// GetByID retrieves an execution. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, executionID string) (*domain.Execution, error)

	// Update replaces the mutable fields of an execution. Returns ErrNotFound if not exists.
	Update(ctx context.Context, e *domain.Execution) error

	// Delete removes an execution. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, executionID string) error

	// GetBySignal retrieves all executions for a signal, ordered by created_at ASC.
	GetBySignal(ctx context.Context, signalID string) ([]*domain.Execution, error)

	// CountInFlightByToken counts PENDING/SUBMITTING/SUBMITTED executions for (token, chain).
	CountInFlightByToken(ctx context.Context, token, chain string) (int, error)

	// DailyPnL sums realized PnL and entry notional of a strategy's
	// executions exited within [dayStart, dayStart+24h).
	DailyPnL(ctx context.Context, strategyID string, dayStart time.Time) (pnl, notional float64, err error)

	// OpenExposure sums AmountUSD of a strategy's SUBMITTED and HOLDING executions for token.
	OpenExposure(ctx context.Context, strategyID, token string) (float64, error)
}

// PositionStore provides access to positions storage.
type PositionStore interface {
	// Insert adds a HOLDING position. Returns ErrDuplicateKey if execution_id exists
	// or another HOLDING position exists for (token, chain).
	Insert(ctx context.Context, p *domain.Position) error

	// GetByExecutionID retrieves a position. Returns ErrNotFound if not exists.
	GetByExecutionID(ctx context.Context, executionID string) (*domain.Position, error)

	// Update replaces the mutable fields of a position. Returns ErrNotFound if not exists.
	Update(ctx context.Context, p *domain.Position) error

	// CountHoldingByToken counts HOLDING positions for (token, chain).
	CountHoldingByToken(ctx context.Context, token, chain string) (int, error)

	// CountHoldingByStrategy counts HOLDING positions owned by a strategy.
	CountHoldingByStrategy(ctx context.Context, strategyID string) (int, error)

	// GetHolding retrieves all HOLDING positions, ordered by opened_at ASC.
	GetHolding(ctx context.Context) ([]*domain.Position, error)
}

// BatchStore provides access to batches storage.
type BatchStore interface {
	// Insert adds a new batch. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, b *domain.Batch) error

	// GetByID retrieves a batch. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Batch, error)

	// Update replaces progress counters and status. Returns ErrNotFound if not exists.
	Update(ctx context.Context, b *domain.Batch) error

	// GetBySignal retrieves all batches for a signal, ordered by created_at ASC.
	GetBySignal(ctx context.Context, signalID string) ([]*domain.Batch, error)
}

// DecisionLogStore provides append-only access to the decision audit log.
type DecisionLogStore interface {
	// Append adds decisions. Duplicate decision ids are ignored.
	Append(ctx context.Context, decisions []*domain.Decision) error

	// GetBySignal retrieves decisions for a signal, ordered by created_at ASC.
	GetBySignal(ctx context.Context, signalID string) ([]*domain.Decision, error)
}
