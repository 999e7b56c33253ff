package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"dexguard/internal/domain"
)

// SwapResultStore implements domain.SwapResultStore using PostgreSQL.
// Results are write-once upstream, so the insert ignores conflicts.
type SwapResultStore struct {
	pool *pgxpool.Pool
}

// NewSwapResultStore creates a new SwapResultStore.
func NewSwapResultStore(pool *pgxpool.Pool) *SwapResultStore {
	return &SwapResultStore{pool: pool}
}

// SaveResult inserts the swap result snapshot. Predictions and measures are
// stored as JSONB documents.
func (s *SwapResultStore) SaveResult(ctx context.Context, res domain.ProtectedSwapResult) error {
	original, err := json.Marshal(res.OriginalPrediction)
	if err != nil {
		return fmt.Errorf("postgres: marshal original prediction: %w", err)
	}
	adjusted, err := json.Marshal(res.AdjustedPrediction)
	if err != nil {
		return fmt.Errorf("postgres: marshal adjusted prediction: %w", err)
	}
	measures, err := json.Marshal(domain.EncodeMeasures(res.MeasuresApplied))
	if err != nil {
		return fmt.Errorf("postgres: marshal measures: %w", err)
	}

	var amountOut *float64
	var gasUsed *int64
	var txHash *string
	if res.Execution != nil {
		amountOut = &res.Execution.AmountOut
		g := int64(res.Execution.GasUsed)
		gasUsed = &g
		h := res.Execution.TxHash.Hex()
		txHash = &h
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO swap_results (swap_id, from_token, to_token, amount, original_prediction, adjusted_prediction, measures, amount_out, gas_used, tx_hash, actual_slippage_bps, protection_effectiveness, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (swap_id) DO NOTHING`,
		res.SwapID, res.FromToken, res.ToToken, res.Amount,
		original, adjusted, measures,
		amountOut, gasUsed, txHash,
		res.ActualSlippageBps, res.ProtectionEffectiveness, res.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert swap_result: %w", err)
	}
	return nil
}

// ListRecentResults returns the most recent swap results. Measures are
// decoded back into the closed variant set.
func (s *SwapResultStore) ListRecentResults(ctx context.Context, limit int) ([]domain.ProtectedSwapResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT swap_id, from_token, to_token, amount, original_prediction, adjusted_prediction, measures, amount_out, gas_used, tx_hash, actual_slippage_bps, protection_effectiveness, created_at
		FROM swap_results ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list swap_results: %w", err)
	}
	defer rows.Close()

	var list []domain.ProtectedSwapResult
	for rows.Next() {
		var res domain.ProtectedSwapResult
		var original, adjusted, measures []byte
		var amountOut *float64
		var gasUsed *int64
		var txHash *string
		if err := rows.Scan(&res.SwapID, &res.FromToken, &res.ToToken, &res.Amount,
			&original, &adjusted, &measures,
			&amountOut, &gasUsed, &txHash,
			&res.ActualSlippageBps, &res.ProtectionEffectiveness, &res.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(original, &res.OriginalPrediction); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal original prediction: %w", err)
		}
		if err := json.Unmarshal(adjusted, &res.AdjustedPrediction); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal adjusted prediction: %w", err)
		}
		var records []domain.MeasureRecord
		if err := json.Unmarshal(measures, &records); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal measures: %w", err)
		}
		res.MeasuresApplied = domain.DecodeMeasures(records)

		if amountOut != nil {
			exec := domain.SwapResult{AmountOut: *amountOut}
			if gasUsed != nil {
				exec.GasUsed = uint64(*gasUsed)
			}
			if txHash != nil {
				exec.TxHash = common.HexToHash(*txHash)
			}
			res.Execution = &exec
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.SwapResultStore = (*SwapResultStore)(nil)
