package domain

import (
	"time"

	"github.com/google/uuid"
)

// SwapPriority expresses what the caller wants optimized.
type SwapPriority string

const (
	PrioritySpeed      SwapPriority = "speed"
	PriorityPrice      SwapPriority = "price"
	PriorityProtection SwapPriority = "protection"
	PriorityBalanced   SwapPriority = "balanced"
)

// SlippageProtectionConfig controls the protective pipeline for one swap.
type SlippageProtectionConfig struct {
	MaxSlippageBps            float64
	DynamicAdjustment         bool
	RouteOptimization         bool
	PreTradeValidation        bool
	PostTradeAnalysis         bool
	EmergencyStopThresholdBps float64
}

// DefaultProtectionConfig returns the engine defaults: 1% tolerance, all
// measures on, 5% emergency stop.
func DefaultProtectionConfig() SlippageProtectionConfig {
	return SlippageProtectionConfig{
		MaxSlippageBps:            100,
		DynamicAdjustment:         true,
		RouteOptimization:         true,
		PreTradeValidation:        true,
		PostTradeAnalysis:         true,
		EmergencyStopThresholdBps: 500,
	}
}

// ProtectedSwapParams describes one swap routed through the protection
// engine. UserID is optional ("" = anonymous).
type ProtectedSwapParams struct {
	FromToken string
	ToToken   string
	Amount    float64
	Config    SlippageProtectionConfig
	UserID    string
	Priority  SwapPriority
}

// ProtectionMeasure is the closed set of auditable adjustments the engine
// may apply before execution.
type ProtectionMeasure interface {
	protectionMeasure()
	Kind() string
}

// DynamicSlippageAdjustment records a recomputed execution tolerance.
type DynamicSlippageAdjustment struct {
	OldToleranceBps float64
	NewToleranceBps float64
}

// RouteOptimization records a venue switch chosen from scored quotes.
type RouteOptimization struct {
	OriginalRoute  string
	OptimizedRoute string
}

// OrderSplittingAdvice records that the trade exceeded the recommended
// size and would benefit from splitting. Informational: the engine does
// not invoke the splitter itself.
type OrderSplittingAdvice struct {
	Chunks    int
	ChunkSize float64
}

// DelayedExecution records a deliberate delay before submission.
type DelayedExecution struct {
	Delay time.Duration
}

// EmergencyStop records an aborted pipeline.
type EmergencyStop struct {
	Reason string
}

func (DynamicSlippageAdjustment) protectionMeasure() {}
func (RouteOptimization) protectionMeasure()         {}
func (OrderSplittingAdvice) protectionMeasure()      {}
func (DelayedExecution) protectionMeasure()          {}
func (EmergencyStop) protectionMeasure()             {}

func (DynamicSlippageAdjustment) Kind() string { return "dynamic_slippage_adjustment" }
func (RouteOptimization) Kind() string         { return "route_optimization" }
func (OrderSplittingAdvice) Kind() string      { return "order_splitting" }
func (DelayedExecution) Kind() string          { return "delayed_execution" }
func (EmergencyStop) Kind() string             { return "emergency_stop" }

// MeasureRecord is the flattened, serializable form of a ProtectionMeasure
// shared by the API, the audit store, and the archiver.
type MeasureRecord struct {
	Kind            string  `json:"kind"`
	OldToleranceBps float64 `json:"old_tolerance_bps,omitempty"`
	NewToleranceBps float64 `json:"new_tolerance_bps,omitempty"`
	OriginalRoute   string  `json:"original_route,omitempty"`
	OptimizedRoute  string  `json:"optimized_route,omitempty"`
	Chunks          int     `json:"chunks,omitempty"`
	ChunkSize       float64 `json:"chunk_size,omitempty"`
	DelaySeconds    float64 `json:"delay_seconds,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// EncodeMeasures flattens measures for serialization. The type switch is
// exhaustive over the closed variant set.
func EncodeMeasures(measures []ProtectionMeasure) []MeasureRecord {
	out := make([]MeasureRecord, 0, len(measures))
	for _, m := range measures {
		switch v := m.(type) {
		case DynamicSlippageAdjustment:
			out = append(out, MeasureRecord{
				Kind:            v.Kind(),
				OldToleranceBps: v.OldToleranceBps,
				NewToleranceBps: v.NewToleranceBps,
			})
		case RouteOptimization:
			out = append(out, MeasureRecord{
				Kind:           v.Kind(),
				OriginalRoute:  v.OriginalRoute,
				OptimizedRoute: v.OptimizedRoute,
			})
		case OrderSplittingAdvice:
			out = append(out, MeasureRecord{
				Kind:      v.Kind(),
				Chunks:    v.Chunks,
				ChunkSize: v.ChunkSize,
			})
		case DelayedExecution:
			out = append(out, MeasureRecord{
				Kind:         v.Kind(),
				DelaySeconds: v.Delay.Seconds(),
			})
		case EmergencyStop:
			out = append(out, MeasureRecord{
				Kind:   v.Kind(),
				Reason: v.Reason,
			})
		}
	}
	return out
}

// DecodeMeasures rebuilds the closed variant set from flattened records.
// Unknown kinds are dropped.
func DecodeMeasures(records []MeasureRecord) []ProtectionMeasure {
	out := make([]ProtectionMeasure, 0, len(records))
	for _, r := range records {
		switch r.Kind {
		case DynamicSlippageAdjustment{}.Kind():
			out = append(out, DynamicSlippageAdjustment{
				OldToleranceBps: r.OldToleranceBps,
				NewToleranceBps: r.NewToleranceBps,
			})
		case RouteOptimization{}.Kind():
			out = append(out, RouteOptimization{
				OriginalRoute:  r.OriginalRoute,
				OptimizedRoute: r.OptimizedRoute,
			})
		case OrderSplittingAdvice{}.Kind():
			out = append(out, OrderSplittingAdvice{
				Chunks:    r.Chunks,
				ChunkSize: r.ChunkSize,
			})
		case DelayedExecution{}.Kind():
			out = append(out, DelayedExecution{
				Delay: time.Duration(r.DelaySeconds * float64(time.Second)),
			})
		case EmergencyStop{}.Kind():
			out = append(out, EmergencyStop{Reason: r.Reason})
		}
	}
	return out
}

// ProtectedSwapResult is the write-once record of one protected swap.
// Execution, ActualSlippageBps, and ProtectionEffectiveness are nil when
// the pipeline did not reach the corresponding stage.
type ProtectedSwapResult struct {
	SwapID                  uuid.UUID
	FromToken               string
	ToToken                 string
	Amount                  float64
	OriginalPrediction      SlippagePrediction
	AdjustedPrediction      SlippagePrediction
	MeasuresApplied         []ProtectionMeasure
	Execution               *SwapResult
	ActualSlippageBps       *float64
	ProtectionEffectiveness *float64
	Timestamp               time.Time
}

// Clone returns a deep copy safe to hand outside the ledger.
func (r ProtectedSwapResult) Clone() ProtectedSwapResult {
	out := r
	out.MeasuresApplied = append([]ProtectionMeasure(nil), r.MeasuresApplied...)
	if r.Execution != nil {
		e := *r.Execution
		out.Execution = &e
	}
	if r.ActualSlippageBps != nil {
		v := *r.ActualSlippageBps
		out.ActualSlippageBps = &v
	}
	if r.ProtectionEffectiveness != nil {
		v := *r.ProtectionEffectiveness
		out.ProtectionEffectiveness = &v
	}
	return out
}

// MarketSnapshot captures the market context a trade executed under.
type MarketSnapshot struct {
	Timestamp      time.Time
	Volatility     float64
	LiquidityDepth float64
	SpreadBps      float64
	RecentVolume   float64
}

// SlippageAnalysis is the derived post-trade read-model for one swap.
type SlippageAnalysis struct {
	TradeID                 uuid.UUID
	PredictedSlippageBps    float64
	ActualSlippageBps       float64
	PredictionAccuracy      float64
	ProtectionEffectiveness float64
	MarketConditions        MarketSnapshot
	Notes                   []string
}

// ProtectionStats aggregates the full protection history.
type ProtectionStats struct {
	TotalTrades          int
	SuccessfulTrades     int
	SuccessRate          float64
	AvgEffectiveness     float64
	AvgActualSlippageBps float64
}
