package domain

import (
	"context"
	"time"
)

// SlippagePrediction is the statistical model's estimate for one trade.
// All slippage figures are in basis points.
type SlippagePrediction struct {
	PredictedSlippageBps    float64   `json:"predicted_slippage_bps"`
	ConfidenceScore         float64   `json:"confidence_score"` // 0..1
	MarketImpactEstimate    float64   `json:"market_impact_estimate"`
	RecommendedMaxTradeSize float64   `json:"recommended_max_trade_size"`
	VolatilityAdjustment    float64   `json:"volatility_adjustment"`
	LiquidityScore          float64   `json:"liquidity_score"`
	PredictedAt             time.Time `json:"predicted_at"`
}

// SlippageDataPoint is one realized-outcome sample fed back to the
// prediction model after execution.
type SlippageDataPoint struct {
	Timestamp      time.Time
	TradeSizeUSD   float64
	ExpectedOutput float64
	ActualOutput   float64
	SlippageBps    float64
	Venue          string
	TokenPair      string
	Volatility     float64
	LiquidityDepth float64
}

// SlippagePredictor is the prediction-model collaborator. Implementations
// live outside this repository; the engines consume it through this
// interface only.
type SlippagePredictor interface {
	PredictSlippage(ctx context.Context, fromToken, toToken string, amount float64) (SlippagePrediction, error)
	RecordSlippageData(ctx context.Context, point SlippageDataPoint) error
}
