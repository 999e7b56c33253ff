package handler

import (
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

// Response shapes shared by the order and swap handlers.

type chunkResponse struct {
	ID             uuid.UUID `json:"id"`
	FromToken      string    `json:"from_token"`
	ToToken        string    `json:"to_token"`
	Amount         float64   `json:"amount"`
	ReadyAt        time.Time `json:"ready_at"`
	Venues         []string  `json:"venues"`
	MaxSlippageBps float64   `json:"max_slippage_bps"`
	Priority       int       `json:"priority"`
	State          string    `json:"state"`
	ActualOutput   float64   `json:"actual_output,omitempty"`
	SlippageBps    float64   `json:"slippage_bps,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type executionResponse struct {
	OrderID            uuid.UUID       `json:"order_id"`
	Status             string          `json:"status"`
	StatusError        string          `json:"status_error,omitempty"`
	TotalExecuted      float64         `json:"total_executed"`
	TotalReceived      float64         `json:"total_received"`
	AverageSlippageBps float64         `json:"average_slippage_bps"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	Chunks             []chunkResponse `json:"chunks"`
}

func newExecutionResponse(exec domain.SplitOrderExecution) executionResponse {
	chunks := make([]chunkResponse, 0, len(exec.Chunks))
	for _, c := range exec.Chunks {
		chunks = append(chunks, chunkResponse{
			ID:             c.ID,
			FromToken:      c.FromToken,
			ToToken:        c.ToToken,
			Amount:         c.Amount,
			ReadyAt:        c.ReadyAt,
			Venues:         c.Venues,
			MaxSlippageBps: c.MaxSlippageBps,
			Priority:       c.Priority,
			State:          string(c.Status.State),
			ActualOutput:   c.Status.ActualOutput,
			SlippageBps:    c.Status.SlippageBps,
			Error:          c.Status.Error,
		})
	}
	return executionResponse{
		OrderID:            exec.OrderID,
		Status:             string(exec.Status),
		StatusError:        exec.StatusError,
		TotalExecuted:      exec.TotalExecuted,
		TotalReceived:      exec.TotalReceived,
		AverageSlippageBps: exec.AverageSlippageBps,
		StartedAt:          exec.StartedAt,
		CompletedAt:        exec.CompletedAt,
		Chunks:             chunks,
	}
}

type swapExecutionResponse struct {
	AmountOut float64 `json:"amount_out"`
	GasUsed   uint64  `json:"gas_used"`
	TxHash    string  `json:"tx_hash"`
}

type swapResultResponse struct {
	SwapID                  uuid.UUID                 `json:"swap_id"`
	FromToken               string                    `json:"from_token"`
	ToToken                 string                    `json:"to_token"`
	Amount                  float64                   `json:"amount"`
	OriginalPrediction      domain.SlippagePrediction `json:"original_prediction"`
	AdjustedPrediction      domain.SlippagePrediction `json:"adjusted_prediction"`
	MeasuresApplied         []domain.MeasureRecord    `json:"measures_applied"`
	Execution               *swapExecutionResponse    `json:"execution,omitempty"`
	ActualSlippageBps       *float64                  `json:"actual_slippage_bps,omitempty"`
	ProtectionEffectiveness *float64                  `json:"protection_effectiveness,omitempty"`
	Timestamp               time.Time                 `json:"timestamp"`
}

func newSwapResultResponse(res domain.ProtectedSwapResult) swapResultResponse {
	out := swapResultResponse{
		SwapID:                  res.SwapID,
		FromToken:               res.FromToken,
		ToToken:                 res.ToToken,
		Amount:                  res.Amount,
		OriginalPrediction:      res.OriginalPrediction,
		AdjustedPrediction:      res.AdjustedPrediction,
		MeasuresApplied:         domain.EncodeMeasures(res.MeasuresApplied),
		ActualSlippageBps:       res.ActualSlippageBps,
		ProtectionEffectiveness: res.ProtectionEffectiveness,
		Timestamp:               res.Timestamp,
	}
	if res.Execution != nil {
		out.Execution = &swapExecutionResponse{
			AmountOut: res.Execution.AmountOut,
			GasUsed:   res.Execution.GasUsed,
			TxHash:    res.Execution.TxHash.Hex(),
		}
	}
	return out
}
