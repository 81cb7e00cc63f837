package clickhouse

import (
	"context"
	"fmt"
	"time"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// DecisionLogStore implements storage.DecisionLogStore using ClickHouse.
// Duplicate decision ids are dropped in-batch and collapsed by ReplacingMergeTree;
// reads use FINAL so callers never see a repeated id.
type DecisionLogStore struct {
	conn *Conn
}

// NewDecisionLogStore creates a new DecisionLogStore.
func NewDecisionLogStore(conn *Conn) *DecisionLogStore {
	return &DecisionLogStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DecisionLogStore = (*DecisionLogStore)(nil)

// Append adds decisions in a single batch.
func (s *DecisionLogStore) Append(ctx context.Context, decisions []*domain.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(decisions))
	unique := make([]*domain.Decision, 0, len(decisions))
	for _, d := range decisions {
		if d == nil || d.DecisionID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[d.DecisionID]; dup {
			continue
		}
		seen[d.DecisionID] = struct{}{}
		unique = append(unique, d)
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO decision_log (
			decision_id, signal_id, strategy_id, user_id, stage,
			passed, level, code, reason, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, d := range unique {
		var passed uint8
		if d.Passed {
			passed = 1
		}
		err = batch.Append(
			d.DecisionID, d.SignalID, d.StrategyID, d.UserID, d.Stage,
			passed, d.Level, d.Code, d.Reason, d.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySignal retrieves decisions for a signal, ordered by created_at ASC.
func (s *DecisionLogStore) GetBySignal(ctx context.Context, signalID string) ([]*domain.Decision, error) {
	query := `
		SELECT decision_id, signal_id, strategy_id, user_id, stage,
		       passed, level, code, reason, created_at
		FROM decision_log FINAL
		WHERE signal_id = ?
		ORDER BY created_at ASC, decision_id ASC
	`

	rows, err := s.conn.Query(ctx, query, signalID)
	if err != nil {
		return nil, fmt.Errorf("query decisions by signal: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// scanDecisions scans multiple rows.
func scanDecisions(rows chRows) ([]*domain.Decision, error) {
	var decisions []*domain.Decision

	for rows.Next() {
		var d domain.Decision
		var passed uint8
		var createdAt time.Time

		err := rows.Scan(
			&d.DecisionID, &d.SignalID, &d.StrategyID, &d.UserID, &d.Stage,
			&passed, &d.Level, &d.Code, &d.Reason, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}

		d.Passed = passed == 1
		d.CreatedAt = createdAt.UTC()
		decisions = append(decisions, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}

	return decisions, nil
}
