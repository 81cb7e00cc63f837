package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// The partial unique index uq_positions_holding_token enforces one HOLDING
// position per (token, chain).
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	execution_id, strategy_id, token, chain, entry_price, highest_price,
	stop_loss_price, take_profit_price, stop_loss_type, trailing_stop_activated,
	status, opened_at, updated_at
`

// Insert adds a position. Returns ErrDuplicateKey on execution_id or HOLDING token conflict.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	if p == nil || p.ExecutionID == "" || p.Token == "" {
		return storage.ErrInvalidInput
	}

	openedAt := p.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}
	status := p.Status
	if status == "" {
		status = domain.PositionHolding
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (
			execution_id, strategy_id, token, chain, token_key, entry_price, highest_price,
			stop_loss_price, take_profit_price, stop_loss_type, trailing_stop_activated,
			status, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`,
		p.ExecutionID, p.StrategyID, p.Token, p.Chain, domain.TokenKey(p.Token, p.Chain),
		p.EntryPrice, p.HighestPrice, p.StopLossPrice, p.TakeProfitPrice,
		string(p.StopLossType), p.TrailingStopActivated, string(status), openedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// GetByExecutionID retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByExecutionID(ctx context.Context, executionID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE execution_id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, executionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by execution id: %w", err)
	}
	return p, nil
}

// Update replaces the mutable fields of a position. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET
			highest_price = $2, stop_loss_price = $3, take_profit_price = $4,
			stop_loss_type = $5, trailing_stop_activated = $6, status = $7, updated_at = now()
		WHERE execution_id = $1
	`,
		p.ExecutionID, p.HighestPrice, p.StopLossPrice, p.TakeProfitPrice,
		string(p.StopLossType), p.TrailingStopActivated, string(p.Status),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountHoldingByToken counts HOLDING positions for (token, chain).
func (s *PositionStore) CountHoldingByToken(ctx context.Context, token, chain string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM positions WHERE token_key = $1 AND status = 'HOLDING'
	`, domain.TokenKey(token, chain)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count holding by token: %w", err)
	}
	return n, nil
}

// CountHoldingByStrategy counts HOLDING positions owned by a strategy.
func (s *PositionStore) CountHoldingByStrategy(ctx context.Context, strategyID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM positions WHERE strategy_id = $1 AND status = 'HOLDING'
	`, strategyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count holding by strategy: %w", err)
	}
	return n, nil
}

// GetHolding retrieves all HOLDING positions, ordered by opened_at ASC.
func (s *PositionStore) GetHolding(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE status = 'HOLDING'
		ORDER BY opened_at ASC, execution_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get holding positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return result, nil
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var slType, status string

	err := row.Scan(
		&p.ExecutionID, &p.StrategyID, &p.Token, &p.Chain, &p.EntryPrice, &p.HighestPrice,
		&p.StopLossPrice, &p.TakeProfitPrice, &slType, &p.TrailingStopActivated,
		&status, &p.OpenedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.StopLossType = domain.StopLossType(slType)
	p.Status = domain.PositionStatus(status)
	p.OpenedAt = p.OpenedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
