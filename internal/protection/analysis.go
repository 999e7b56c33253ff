package protection

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

// Thresholds for the qualitative post-trade notes.
const (
	noteErrorBps       = 50
	noteOvershootRatio = 1.5
	noteEffectiveness  = 0.3
	noteConfidence     = 0.5
)

// AnalyzeSlippagePerformance derives the post-trade read-model for one
// recorded swap: prediction accuracy, effectiveness, a market snapshot
// rebuilt from the stored prediction, and qualitative notes.
func (e *Engine) AnalyzeSlippagePerformance(swapID uuid.UUID) (domain.SlippageAnalysis, error) {
	result, err := e.results.Get(swapID)
	if err != nil {
		return domain.SlippageAnalysis{}, fmt.Errorf("protection: analyze swap %s: %w", swapID, err)
	}

	predicted := result.OriginalPrediction.PredictedSlippageBps
	actual := 0.0
	if result.ActualSlippageBps != nil {
		actual = *result.ActualSlippageBps
	}
	effectiveness := 0.0
	if result.ProtectionEffectiveness != nil {
		effectiveness = *result.ProtectionEffectiveness
	}

	accuracy := clamp01(1 - math.Abs(predicted-actual)/math.Max(predicted, 1))

	var notes []string
	if math.Abs(predicted-actual) > noteErrorBps {
		notes = append(notes, "prediction error exceeded 50 bps")
	}
	if actual > noteOvershootRatio*predicted {
		notes = append(notes, "actual slippage ran more than 1.5x the prediction")
	}
	if effectiveness > noteEffectiveness {
		notes = append(notes, "protection measures materially improved the outcome")
	}
	if result.OriginalPrediction.ConfidenceScore < noteConfidence {
		notes = append(notes, "prediction confidence was low")
	}

	return domain.SlippageAnalysis{
		TradeID:                 result.SwapID,
		PredictedSlippageBps:    predicted,
		ActualSlippageBps:       actual,
		PredictionAccuracy:      accuracy,
		ProtectionEffectiveness: effectiveness,
		MarketConditions: domain.MarketSnapshot{
			Timestamp:      result.Timestamp,
			Volatility:     result.OriginalPrediction.VolatilityAdjustment,
			LiquidityDepth: result.OriginalPrediction.LiquidityScore,
			SpreadBps:      result.OriginalPrediction.MarketImpactEstimate,
			RecentVolume:   result.OriginalPrediction.RecommendedMaxTradeSize,
		},
		Notes: notes,
	}, nil
}

// GetProtectionStatistics folds the full result history into aggregate
// counters. O(n) per call over the in-memory ledger.
func (e *Engine) GetProtectionStatistics() domain.ProtectionStats {
	results := e.results.Snapshot()

	stats := domain.ProtectionStats{TotalTrades: len(results)}
	if len(results) == 0 {
		return stats
	}

	var effSum, effCount, slipSum, slipCount float64
	for _, r := range results {
		if r.Execution != nil {
			stats.SuccessfulTrades++
		}
		if r.ProtectionEffectiveness != nil {
			effSum += *r.ProtectionEffectiveness
			effCount++
		}
		if r.ActualSlippageBps != nil {
			slipSum += *r.ActualSlippageBps
			slipCount++
		}
	}
	stats.SuccessRate = float64(stats.SuccessfulTrades) / float64(stats.TotalTrades)
	if effCount > 0 {
		stats.AvgEffectiveness = effSum / effCount
	}
	if slipCount > 0 {
		stats.AvgActualSlippageBps = slipSum / slipCount
	}
	return stats
}
