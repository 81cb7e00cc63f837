package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// BatchStore implements storage.BatchStore using PostgreSQL.
type BatchStore struct {
	pool *Pool
}

// NewBatchStore creates a new BatchStore.
func NewBatchStore(pool *Pool) *BatchStore {
	return &BatchStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BatchStore = (*BatchStore)(nil)

const batchColumns = `
	id, signal_id, total_users, total_amount, liquidity_usd, batch_count, batch_size,
	completed_users, failed_users, skipped_users, status, created_at, updated_at
`

// Insert adds a new batch. Returns ErrDuplicateKey if id exists.
func (s *BatchStore) Insert(ctx context.Context, b *domain.Batch) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO batches (
			id, signal_id, total_users, total_amount, liquidity_usd, batch_count, batch_size,
			completed_users, failed_users, skipped_users, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`,
		b.ID, b.SignalID, b.TotalUsers, b.TotalAmount, b.LiquidityUSD, b.BatchCount, b.BatchSize,
		b.CompletedUsers, b.FailedUsers, b.SkippedUsers, string(b.Status), createdAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetByID retrieves a batch. Returns ErrNotFound if not exists.
func (s *BatchStore) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`

	b, err := scanBatch(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get batch by id: %w", err)
	}
	return b, nil
}

// Update replaces progress counters and status. Returns ErrNotFound if not exists.
func (s *BatchStore) Update(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE batches SET
			completed_users = $2, failed_users = $3, skipped_users = $4,
			status = $5, updated_at = now()
		WHERE id = $1
	`, b.ID, b.CompletedUsers, b.FailedUsers, b.SkippedUsers, string(b.Status))
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetBySignal retrieves all batches for a signal, ordered by created_at ASC.
func (s *BatchStore) GetBySignal(ctx context.Context, signalID string) ([]*domain.Batch, error) {
	query := `SELECT ` + batchColumns + `
		FROM batches
		WHERE signal_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, signalID)
	if err != nil {
		return nil, fmt.Errorf("get batches by signal: %w", err)
	}
	defer rows.Close()

	var result []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch rows: %w", err)
	}
	return result, nil
}

// scanBatch scans a single row into a Batch.
func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var b domain.Batch
	var status string

	err := row.Scan(
		&b.ID, &b.SignalID, &b.TotalUsers, &b.TotalAmount, &b.LiquidityUSD, &b.BatchCount, &b.BatchSize,
		&b.CompletedUsers, &b.FailedUsers, &b.SkippedUsers, &status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = domain.BatchStatus(status)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}
