package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// ExecutionStore implements storage.ExecutionStore using PostgreSQL.
// The execution_id primary key is the idempotency guard under concurrent writers.
type ExecutionStore struct {
	pool *Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)

const executionColumns = `
	execution_id, strategy_id, user_id, signal_id, token, chain, status,
	amount_usd, amount_in, amount_out_min, venue,
	entry_tx_hash, exit_tx_hash, entry_price, exit_price, realized_pnl,
	batch_id, batch_index, error_message, created_at, updated_at, exited_at
`

// Insert adds a new execution. Returns ErrDuplicateKey if execution_id exists.
func (s *ExecutionStore) Insert(ctx context.Context, e *domain.Execution) error {
	if e == nil || e.ExecutionID == "" {
		return storage.ErrInvalidInput
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO executions (
			execution_id, strategy_id, user_id, signal_id, token, chain, token_key, symbol, status,
			amount_usd, amount_in, amount_out_min, venue,
			entry_tx_hash, exit_tx_hash, entry_price, exit_price, realized_pnl,
			batch_id, batch_index, error_message, created_at, updated_at, exited_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22, $22, $23
		)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ExecutionID, e.StrategyID, e.UserID, e.SignalID, e.Token, e.Chain,
		domain.TokenKey(e.Token, e.Chain), domain.NormalizeSymbol(e.Token), string(e.Status),
		e.AmountUSD, e.AmountIn, e.AmountOutMin, string(e.Venue),
		e.EntryTxHash, e.ExitTxHash, e.EntryPrice, e.ExitPrice, e.RealizedPnL,
		e.BatchID, e.BatchIndex, e.ErrorMessage, createdAt, e.ExitedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetByID retrieves an execution. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetByID(ctx context.Context, executionID string) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE execution_id = $1`

	e, err := scanExecution(s.pool.QueryRow(ctx, query, executionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get execution by id: %w", err)
	}
	return e, nil
}

// Update replaces the mutable fields of an execution. Returns ErrNotFound if not exists.
func (s *ExecutionStore) Update(ctx context.Context, e *domain.Execution) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE executions SET
			status = $2, amount_usd = $3, amount_in = $4, amount_out_min = $5, venue = $6,
			entry_tx_hash = $7, exit_tx_hash = $8, entry_price = $9, exit_price = $10,
			realized_pnl = $11, batch_id = $12, batch_index = $13, error_message = $14,
			exited_at = $15, updated_at = now()
		WHERE execution_id = $1
	`,
		e.ExecutionID, string(e.Status), e.AmountUSD, e.AmountIn, e.AmountOutMin, string(e.Venue),
		e.EntryTxHash, e.ExitTxHash, e.EntryPrice, e.ExitPrice,
		e.RealizedPnL, e.BatchID, e.BatchIndex, e.ErrorMessage,
		e.ExitedAt,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes an execution. Returns ErrNotFound if not exists.
func (s *ExecutionStore) Delete(ctx context.Context, executionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetBySignal retrieves all executions for a signal, ordered by created_at ASC.
func (s *ExecutionStore) GetBySignal(ctx context.Context, signalID string) ([]*domain.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE signal_id = $1
		ORDER BY created_at ASC, execution_id ASC
	`

	rows, err := s.pool.Query(ctx, query, signalID)
	if err != nil {
		return nil, fmt.Errorf("get executions by signal: %w", err)
	}
	defer rows.Close()

	var result []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return result, nil
}

// CountInFlightByToken counts PENDING/SUBMITTING/SUBMITTED executions for (token, chain).
func (s *ExecutionStore) CountInFlightByToken(ctx context.Context, token, chain string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM executions
		WHERE token_key = $1 AND status IN ('PENDING', 'SUBMITTING', 'SUBMITTED')
	`, domain.TokenKey(token, chain)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count in-flight executions: %w", err)
	}
	return n, nil
}

// DailyPnL sums realized PnL and entry notional of executions exited within the day.
func (s *ExecutionStore) DailyPnL(ctx context.Context, strategyID string, dayStart time.Time) (float64, float64, error) {
	var pnl, notional float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(realized_pnl), 0), COALESCE(sum(amount_usd), 0)
		FROM executions
		WHERE strategy_id = $1 AND status = 'EXITED'
		  AND exited_at >= $2 AND exited_at < $3
	`, strategyID, dayStart, dayStart.Add(24*time.Hour)).Scan(&pnl, &notional)
	if err != nil {
		return 0, 0, fmt.Errorf("daily pnl: %w", err)
	}
	return pnl, notional, nil
}

// OpenExposure sums AmountUSD of a strategy's SUBMITTED and HOLDING executions for token.
func (s *ExecutionStore) OpenExposure(ctx context.Context, strategyID, token string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(amount_usd), 0) FROM executions
		WHERE strategy_id = $1 AND symbol = $2 AND status IN ('SUBMITTED', 'HOLDING')
	`, strategyID, domain.NormalizeSymbol(token)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("open exposure: %w", err)
	}
	return total, nil
}

// scanExecution scans a single row into an Execution.
func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	var status, venue string

	err := row.Scan(
		&e.ExecutionID, &e.StrategyID, &e.UserID, &e.SignalID, &e.Token, &e.Chain, &status,
		&e.AmountUSD, &e.AmountIn, &e.AmountOutMin, &venue,
		&e.EntryTxHash, &e.ExitTxHash, &e.EntryPrice, &e.ExitPrice, &e.RealizedPnL,
		&e.BatchID, &e.BatchIndex, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt, &e.ExitedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = domain.ExecutionStatus(status)
	e.Venue = domain.Venue(venue)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if e.ExitedAt != nil {
		t := e.ExitedAt.UTC()
		e.ExitedAt = &t
	}
	return &e, nil
}
