package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// StrategyStore implements storage.StrategyStore using PostgreSQL.
// Whitelist and blacklist are stored as JSON text arrays.
type StrategyStore struct {
	pool *Pool
}

// NewStrategyStore creates a new StrategyStore.
func NewStrategyStore(pool *Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StrategyStore = (*StrategyStore)(nil)

const strategyColumns = `
	id, user_id, enabled, wallet_address, chains,
	trade_amount, max_trade_amount, max_slippage_bps, max_positions,
	daily_loss_limit_pct, single_token_max_percent, min_liquidity_required,
	whitelist, blacklist, follow_strategy, min_confidence,
	paused_until, pause_reason, created_at, updated_at
`

// Upsert inserts or replaces a strategy config by id.
func (s *StrategyStore) Upsert(ctx context.Context, cfg *domain.StrategyConfig) error {
	if cfg == nil || cfg.ID == "" || cfg.UserID == "" {
		return storage.ErrInvalidInput
	}

	chains := cfg.Chains
	if chains == nil {
		chains = []string{}
	}
	follow := cfg.FollowStrategy
	if follow == "" {
		follow = domain.FollowAll
	}

	query := `
		INSERT INTO strategies (
			id, user_id, enabled, wallet_address, chains,
			trade_amount, max_trade_amount, max_slippage_bps, max_positions,
			daily_loss_limit_pct, single_token_max_percent, min_liquidity_required,
			whitelist, blacklist, follow_strategy, min_confidence,
			paused_until, pause_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, now(), now()
		)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			enabled = EXCLUDED.enabled,
			wallet_address = EXCLUDED.wallet_address,
			chains = EXCLUDED.chains,
			trade_amount = EXCLUDED.trade_amount,
			max_trade_amount = EXCLUDED.max_trade_amount,
			max_slippage_bps = EXCLUDED.max_slippage_bps,
			max_positions = EXCLUDED.max_positions,
			daily_loss_limit_pct = EXCLUDED.daily_loss_limit_pct,
			single_token_max_percent = EXCLUDED.single_token_max_percent,
			min_liquidity_required = EXCLUDED.min_liquidity_required,
			whitelist = EXCLUDED.whitelist,
			blacklist = EXCLUDED.blacklist,
			follow_strategy = EXCLUDED.follow_strategy,
			min_confidence = EXCLUDED.min_confidence,
			paused_until = EXCLUDED.paused_until,
			pause_reason = EXCLUDED.pause_reason,
			updated_at = now()
	`

	_, err := s.pool.Exec(ctx, query,
		cfg.ID, cfg.UserID, cfg.Enabled, cfg.WalletAddress, chains,
		cfg.TradeAmount, cfg.MaxTradeAmount, cfg.MaxSlippageBps, cfg.MaxPositions,
		cfg.DailyLossLimitPct, cfg.SingleTokenMaxPercent, cfg.MinLiquidityRequired,
		cfg.Whitelist.String(), cfg.Blacklist.String(), string(follow), cfg.MinConfidence,
		cfg.PausedUntil, cfg.PauseReason,
	)
	if err != nil {
		return fmt.Errorf("upsert strategy: %w", err)
	}
	return nil
}

// GetByID retrieves a strategy by its ID. Returns ErrNotFound if not exists.
func (s *StrategyStore) GetByID(ctx context.Context, id string) (*domain.StrategyConfig, error) {
	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE id = $1`

	cfg, err := scanStrategy(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get strategy by id: %w", err)
	}
	return cfg, nil
}

// GetEnabled retrieves all enabled strategies, ordered by id.
func (s *StrategyStore) GetEnabled(ctx context.Context) ([]*domain.StrategyConfig, error) {
	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE enabled ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get enabled strategies: %w", err)
	}
	defer rows.Close()

	var result []*domain.StrategyConfig
	for rows.Next() {
		cfg, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy row: %w", err)
		}
		result = append(result, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategy rows: %w", err)
	}
	return result, nil
}

// SetPause activates the circuit breaker until the given time.
func (s *StrategyStore) SetPause(ctx context.Context, id string, until time.Time, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET paused_until = $2, pause_reason = $3, updated_at = now()
		WHERE id = $1
	`, id, until, reason)
	if err != nil {
		return fmt.Errorf("set strategy pause: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClearPause removes the circuit breaker. Returns ErrNotFound if not exists.
func (s *StrategyStore) ClearPause(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET paused_until = NULL, pause_reason = '', updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear strategy pause: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClearExpiredPauses removes pauses that ended before now.
func (s *StrategyStore) ClearExpiredPauses(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET paused_until = NULL, pause_reason = '', updated_at = now()
		WHERE paused_until IS NOT NULL AND paused_until <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("clear expired pauses: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanStrategy scans a single row into a StrategyConfig.
func scanStrategy(row pgx.Row) (*domain.StrategyConfig, error) {
	var cfg domain.StrategyConfig
	var whitelist, blacklist, follow string

	err := row.Scan(
		&cfg.ID, &cfg.UserID, &cfg.Enabled, &cfg.WalletAddress, &cfg.Chains,
		&cfg.TradeAmount, &cfg.MaxTradeAmount, &cfg.MaxSlippageBps, &cfg.MaxPositions,
		&cfg.DailyLossLimitPct, &cfg.SingleTokenMaxPercent, &cfg.MinLiquidityRequired,
		&whitelist, &blacklist, &follow, &cfg.MinConfidence,
		&cfg.PausedUntil, &cfg.PauseReason, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.Whitelist = domain.ParseSymbolSet(whitelist)
	cfg.Blacklist = domain.ParseSymbolSet(blacklist)
	cfg.FollowStrategy = domain.FollowStrategy(follow)
	return &cfg, nil
}
