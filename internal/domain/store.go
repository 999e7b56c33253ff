package domain

import (
	"context"

	"github.com/google/uuid"
)

// ExecutionStore persists split-order executions for audit. Saves are
// snapshot upserts: the ledger remains the source of truth for live state.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec SplitOrderExecution) error
	ListRecentExecutions(ctx context.Context, limit int) ([]SplitOrderExecution, error)
}

// SwapResultStore persists protected-swap results for audit.
type SwapResultStore interface {
	SaveResult(ctx context.Context, res ProtectedSwapResult) error
	ListRecentResults(ctx context.Context, limit int) ([]ProtectedSwapResult, error)
}

// VolumeProfileCache caches intraday volume profiles per token pair.
// Implementations return ErrNotFound on a cache miss.
type VolumeProfileCache interface {
	GetProfile(ctx context.Context, pair string) ([]VolumeWindow, error)
	SetProfile(ctx context.Context, pair string, profile []VolumeWindow) error
}

// EventBus is a lightweight pub/sub used to stream execution progress to
// the WebSocket hub. Payloads are JSON-encoded by the publisher.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event channels published by the engines.
const (
	ChannelOrders = "orders"
	ChannelSwaps  = "swaps"
)

// OrderEvent is the progress envelope published on ChannelOrders.
type OrderEvent struct {
	Type    string     `json:"type"` // chunk_completed, chunk_failed, order_done
	OrderID uuid.UUID  `json:"order_id"`
	ChunkID *uuid.UUID `json:"chunk_id,omitempty"`
	Status  ExecStatus `json:"status,omitempty"`
}

// SwapEvent is the envelope published on ChannelSwaps.
type SwapEvent struct {
	Type              string    `json:"type"` // swap_protected, swap_aborted
	SwapID            uuid.UUID `json:"swap_id"`
	ActualSlippageBps *float64  `json:"actual_slippage_bps,omitempty"`
	Reason            string    `json:"reason,omitempty"`
}
