package domain

import (
	"time"

	"github.com/google/uuid"
)

// SplittingStrategy is the closed set of chunking policies. The sealed
// marker method keeps the set exhaustive: a new variant does not compile
// until every type switch over strategies handles it.
type SplittingStrategy interface {
	splittingStrategy()
	Name() string
}

// TWAP slices the order into equal chunks spread evenly across the window.
type TWAP struct {
	Intervals int
}

// VWAP sizes chunks from the pair's intraday volume profile.
type VWAP struct {
	VolumeTarget float64
}

// Iceberg repeatedly exposes a fixed visible fraction of the order until
// the total is exhausted.
type Iceberg struct {
	VisibleSizePercent float64
}

// Adaptive sizes chunks from the predictor's recommended trade size,
// scaled by an aggressiveness knob in [0, 1].
type Adaptive struct {
	Aggressiveness float64
}

func (TWAP) splittingStrategy()    {}
func (VWAP) splittingStrategy()    {}
func (Iceberg) splittingStrategy() {}
func (Adaptive) splittingStrategy() {}

func (TWAP) Name() string     { return "twap" }
func (VWAP) Name() string     { return "vwap" }
func (Iceberg) Name() string  { return "iceberg" }
func (Adaptive) Name() string { return "adaptive" }

// OrderSplitParams describes one logical order to be split and scheduled.
// MinChunkSize and MaxChunks are accepted for forward compatibility and
// validated, but the strategies do not bind to them.
type OrderSplitParams struct {
	FromToken      string
	ToToken        string
	TotalAmount    float64
	Strategy       SplittingStrategy
	MaxSlippageBps float64
	TimeWindow     time.Duration
	MinChunkSize   float64
	MaxChunks      int
}

// ChunkState is the lifecycle position of one chunk.
type ChunkState string

const (
	ChunkPending   ChunkState = "pending"
	ChunkExecuting ChunkState = "executing"
	ChunkCompleted ChunkState = "completed"
	ChunkFailed    ChunkState = "failed"
)

// ChunkStatus pairs the state with its payload: completed chunks carry the
// realized output and slippage, failed chunks carry the error text.
type ChunkStatus struct {
	State        ChunkState
	ActualOutput float64
	SlippageBps  float64
	Error        string
}

// CompletedChunk builds a terminal completed status.
func CompletedChunk(actualOutput, slippageBps float64) ChunkStatus {
	return ChunkStatus{State: ChunkCompleted, ActualOutput: actualOutput, SlippageBps: slippageBps}
}

// FailedChunk builds a terminal failed status.
func FailedChunk(reason string) ChunkStatus {
	return ChunkStatus{State: ChunkFailed, Error: reason}
}

// Terminal reports whether the chunk can no longer change state.
func (s ChunkStatus) Terminal() bool {
	return s.State == ChunkCompleted || s.State == ChunkFailed
}

// OrderChunk is one scheduled sub-trade of a split order.
type OrderChunk struct {
	ID             uuid.UUID
	FromToken      string
	ToToken        string
	Amount         float64
	ReadyAt        time.Time
	Venues         []string
	MaxSlippageBps float64
	Priority       int
	Status         ChunkStatus
}

// ExecStatus is the aggregate lifecycle of a split order.
type ExecStatus string

const (
	ExecPlanning           ExecStatus = "planning"
	ExecExecuting          ExecStatus = "executing"
	ExecCompleted          ExecStatus = "completed"
	ExecPartiallyCompleted ExecStatus = "partially_completed"
	ExecFailed             ExecStatus = "failed"
)

// Terminal reports whether the order has reached a final state.
func (s ExecStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecPartiallyCompleted || s == ExecFailed
}

// SplitOrderExecution is the full plan and running state of one split
// order. The ledger owns the canonical copy; everything handed to callers
// is a clone.
type SplitOrderExecution struct {
	OrderID            uuid.UUID
	Chunks             []OrderChunk
	TotalExecuted      float64
	TotalReceived      float64
	AverageSlippageBps float64
	StartedAt          time.Time
	CompletedAt        *time.Time
	Status             ExecStatus
	StatusError        string
}

// Clone returns a deep copy safe to hand outside the ledger.
func (e SplitOrderExecution) Clone() SplitOrderExecution {
	out := e
	out.Chunks = make([]OrderChunk, len(e.Chunks))
	copy(out.Chunks, e.Chunks)
	for i := range out.Chunks {
		if len(e.Chunks[i].Venues) > 0 {
			out.Chunks[i].Venues = append([]string(nil), e.Chunks[i].Venues...)
		}
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// VolumeWindow is one bucket of an intraday volume profile. Weight is the
// window's share of expected session volume.
type VolumeWindow struct {
	Start          time.Time
	End            time.Time
	ExpectedVolume float64
	Weight         float64
}
