package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

const signalColumns = `
	id, token, chain, contract_address, signal_type,
	entry_min, entry_max, stop_loss, take_profit, confidence,
	source, strategy_id, is_bonding_curve, last_price,
	status, rejection_reason, created_at, expires_at, updated_at
`

// Insert adds a new signal. Returns ErrDuplicateKey if id exists.
func (s *SignalStore) Insert(ctx context.Context, sig *domain.Signal) error {
	if sig == nil || sig.ID == "" {
		return storage.ErrInvalidInput
	}

	status := sig.Status
	if status == "" {
		status = domain.SignalStatusActive
	}
	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	takeProfit := sig.TakeProfit
	if takeProfit == nil {
		takeProfit = []float64{}
	}

	query := `
		INSERT INTO signals (
			id, token, chain, token_key, contract_address, signal_type,
			entry_min, entry_max, stop_loss, take_profit, confidence,
			source, strategy_id, is_bonding_curve, last_price,
			status, rejection_reason, created_at, expires_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, now()
		)
	`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.Token, sig.Chain, domain.TokenKey(sig.Token, sig.Chain), sig.ContractAddress, string(sig.Type),
		sig.EntryMin, sig.EntryMax, sig.StopLoss, takeProfit, sig.Confidence,
		string(sig.Source), sig.StrategyID, sig.IsBondingCurve, sig.LastPrice,
		string(status), sig.RejectionReason, createdAt, nullTime(sig.ExpiresAt),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(ctx context.Context, id string) (*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE id = $1`

	sig, err := scanSignal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get signal by id: %w", err)
	}
	return sig, nil
}

// GetActive retrieves all ACTIVE signals, ordered by created_at ASC.
func (s *SignalStore) GetActive(ctx context.Context) ([]*domain.Signal, error) {
	query := `SELECT ` + signalColumns + `
		FROM signals
		WHERE status = 'ACTIVE'
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get active signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// GetExpired retrieves ACTIVE signals whose expires_at is at or before now.
func (s *SignalStore) GetExpired(ctx context.Context, now time.Time) ([]*domain.Signal, error) {
	query := `SELECT ` + signalColumns + `
		FROM signals
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("get expired signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// UpdateStatus sets status and rejection reason. Returns ErrNotFound if not exists.
func (s *SignalStore) UpdateStatus(ctx context.Context, id string, status domain.SignalStatus, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals SET status = $2, rejection_reason = $3, updated_at = now()
		WHERE id = $1
	`, id, string(status), reason)
	if err != nil {
		return fmt.Errorf("update signal status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdatePrice records the latest observed price for a signal.
func (s *SignalStore) UpdatePrice(ctx context.Context, id string, price float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals SET last_price = $2, updated_at = clock_timestamp()
		WHERE id = $1
	`, id, price)
	if err != nil {
		return fmt.Errorf("update signal price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LatestPrice returns the most recently updated non-zero price for (token, chain).
func (s *SignalStore) LatestPrice(ctx context.Context, token, chain string) (float64, bool, error) {
	var price float64
	err := s.pool.QueryRow(ctx, `
		SELECT last_price FROM signals
		WHERE token_key = $1 AND last_price > 0
		ORDER BY updated_at DESC
		LIMIT 1
	`, domain.TokenKey(token, chain)).Scan(&price)
	if err != nil {
		if isNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("latest signal price: %w", err)
	}
	return price, true, nil
}

// TriggerActiveByToken flips other ACTIVE signals for (token, chain) to TRIGGERED.
func (s *SignalStore) TriggerActiveByToken(ctx context.Context, token, chain, exceptID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals
		SET status = 'TRIGGERED', rejection_reason = 'triggered by ' || $3::text, updated_at = now()
		WHERE token_key = $1 AND status = 'ACTIVE' AND id <> $2
	`, domain.TokenKey(token, chain), exceptID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("trigger active signals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanSignal scans a single row into a Signal.
func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var sig domain.Signal
	var sigType, source, status string
	var expiresAt *time.Time

	err := row.Scan(
		&sig.ID, &sig.Token, &sig.Chain, &sig.ContractAddress, &sigType,
		&sig.EntryMin, &sig.EntryMax, &sig.StopLoss, &sig.TakeProfit, &sig.Confidence,
		&source, &sig.StrategyID, &sig.IsBondingCurve, &sig.LastPrice,
		&status, &sig.RejectionReason, &sig.CreatedAt, &expiresAt, &sig.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sig.Type = domain.SignalType(sigType)
	sig.Source = domain.SignalSource(source)
	sig.Status = domain.SignalStatus(status)
	sig.CreatedAt = sig.CreatedAt.UTC()
	sig.UpdatedAt = sig.UpdatedAt.UTC()
	sig.ExpiresAt = timeOrZero(expiresAt)
	return &sig, nil
}

// scanSignals scans multiple rows into a slice of Signal.
func scanSignals(rows pgx.Rows) ([]*domain.Signal, error) {
	var signals []*domain.Signal

	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}

	return signals, nil
}
