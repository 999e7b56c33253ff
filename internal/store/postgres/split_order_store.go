package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"dexguard/internal/domain"
)

// SplitOrderStore implements domain.ExecutionStore using PostgreSQL. Saves
// are full-snapshot upserts: the order row is updated in place and the
// chunk rows are rewritten.
type SplitOrderStore struct {
	pool *pgxpool.Pool
}

// NewSplitOrderStore creates a new SplitOrderStore.
func NewSplitOrderStore(pool *pgxpool.Pool) *SplitOrderStore {
	return &SplitOrderStore{pool: pool}
}

// SaveExecution upserts the execution snapshot and its chunks.
func (s *SplitOrderStore) SaveExecution(ctx context.Context, exec domain.SplitOrderExecution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO split_orders (order_id, total_executed, total_received, average_slippage_bps, started_at, completed_at, status, status_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO UPDATE SET
			total_executed = EXCLUDED.total_executed,
			total_received = EXCLUDED.total_received,
			average_slippage_bps = EXCLUDED.average_slippage_bps,
			completed_at = EXCLUDED.completed_at,
			status = EXCLUDED.status,
			status_error = EXCLUDED.status_error`,
		exec.OrderID, exec.TotalExecuted, exec.TotalReceived, exec.AverageSlippageBps,
		exec.StartedAt, exec.CompletedAt, string(exec.Status), exec.StatusError,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert split_order: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM split_order_chunks WHERE order_id = $1`, exec.OrderID); err != nil {
		return fmt.Errorf("postgres: clear split_order_chunks: %w", err)
	}

	for _, chunk := range exec.Chunks {
		_, err = tx.Exec(ctx, `
			INSERT INTO split_order_chunks (chunk_id, order_id, from_token, to_token, amount, ready_at, venues, max_slippage_bps, priority, state, actual_output, slippage_bps, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			chunk.ID, exec.OrderID, chunk.FromToken, chunk.ToToken, chunk.Amount,
			chunk.ReadyAt, chunk.Venues, chunk.MaxSlippageBps, chunk.Priority,
			string(chunk.Status.State), chunk.Status.ActualOutput, chunk.Status.SlippageBps, chunk.Status.Error,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert split_order_chunk: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListRecentExecutions returns the most recent executions with their chunks.
func (s *SplitOrderStore) ListRecentExecutions(ctx context.Context, limit int) ([]domain.SplitOrderExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, total_executed, total_received, average_slippage_bps, started_at, completed_at, status, status_error
		FROM split_orders ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list split_orders: %w", err)
	}
	defer rows.Close()

	var list []domain.SplitOrderExecution
	for rows.Next() {
		var exec domain.SplitOrderExecution
		var status string
		if err := rows.Scan(&exec.OrderID, &exec.TotalExecuted, &exec.TotalReceived,
			&exec.AverageSlippageBps, &exec.StartedAt, &exec.CompletedAt,
			&status, &exec.StatusError); err != nil {
			return nil, err
		}
		exec.Status = domain.ExecStatus(status)
		list = append(list, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range list {
		chunks, err := s.loadChunks(ctx, list[i])
		if err != nil {
			return nil, err
		}
		list[i].Chunks = chunks
	}
	return list, nil
}

func (s *SplitOrderStore) loadChunks(ctx context.Context, exec domain.SplitOrderExecution) ([]domain.OrderChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, from_token, to_token, amount, ready_at, venues, max_slippage_bps, priority, state, actual_output, slippage_bps, error
		FROM split_order_chunks WHERE order_id = $1 ORDER BY priority`,
		exec.OrderID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list split_order_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.OrderChunk
	for rows.Next() {
		var chunk domain.OrderChunk
		var state string
		if err := rows.Scan(&chunk.ID, &chunk.FromToken, &chunk.ToToken, &chunk.Amount,
			&chunk.ReadyAt, &chunk.Venues, &chunk.MaxSlippageBps, &chunk.Priority,
			&state, &chunk.Status.ActualOutput, &chunk.Status.SlippageBps, &chunk.Status.Error); err != nil {
			return nil, err
		}
		chunk.Status.State = domain.ChunkState(state)
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*SplitOrderStore)(nil)
