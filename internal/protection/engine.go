// Package protection runs single swaps through a multi-stage protective
// pipeline: predict, adjust, validate, execute, analyze, feed back. Every
// adjustment is recorded as an auditable measure; swaps whose adjusted
// prediction crosses the emergency threshold abort before any router call.
package protection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
	"dexguard/internal/ledger"
)

// Tolerance and credit constants of the adjustment stage.
const (
	lowConfidence  = 0.7
	highConfidence = 0.9
	lowConfFactor  = 1.2
	highConfFactor = 0.9

	volatilityCreditBps = 50
	minToleranceBps     = 10
	maxToleranceBps     = 1000

	// Multiplicative credits applied to the predicted slippage when a
	// better route is found or the trade is advised to split.
	routeCredit = 0.85
	splitCredit = 0.70

	routeComplexityPenalty = 10
	gasPenaltyDivisor      = 1000

	confidenceWarnFloor = 0.3
)

// Options tune the engine's interaction with collaborators.
type Options struct {
	// CallTimeout bounds every predictor/router call. Zero means 30s.
	CallTimeout time.Duration

	// Defaults is the protection config used when the caller supplies none
	// and no per-user override exists.
	Defaults domain.SlippageProtectionConfig
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.Defaults.MaxSlippageBps == 0 {
		o.Defaults = domain.DefaultProtectionConfig()
	}
	return o
}

// Engine is the slippage protection engine. Results live in the shared
// result ledger; the engine holds collaborators and per-user config
// overrides.
type Engine struct {
	router    domain.LiquidityRouter
	predictor domain.SlippagePredictor
	results   *ledger.ResultLedger
	opts      Options
	logger    *slog.Logger

	store domain.SwapResultStore // optional audit write-through
	bus   domain.EventBus        // optional progress stream

	userMu      sync.RWMutex
	userConfigs map[string]domain.SlippageProtectionConfig
}

// New creates an Engine backed by the given collaborators and ledger.
func New(router domain.LiquidityRouter, predictor domain.SlippagePredictor, results *ledger.ResultLedger, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		router:      router,
		predictor:   predictor,
		results:     results,
		opts:        opts.withDefaults(),
		logger:      logger.With(slog.String("component", "protection")),
		userConfigs: make(map[string]domain.SlippageProtectionConfig),
	}
}

// SetAuditStore enables best-effort persistence of swap results.
func (e *Engine) SetAuditStore(store domain.SwapResultStore) {
	e.store = store
}

// SetEventBus enables swap events on the swaps channel.
func (e *Engine) SetEventBus(bus domain.EventBus) {
	e.bus = bus
}

// SetUserConfig stores a per-user protection config override.
func (e *Engine) SetUserConfig(userID string, cfg domain.SlippageProtectionConfig) {
	e.userMu.Lock()
	defer e.userMu.Unlock()
	e.userConfigs[userID] = cfg
}

// UserConfig returns the stored override for the user, if any.
func (e *Engine) UserConfig(userID string) (domain.SlippageProtectionConfig, bool) {
	e.userMu.RLock()
	defer e.userMu.RUnlock()
	cfg, ok := e.userConfigs[userID]
	return cfg, ok
}

// ExecuteProtectedSwap runs one swap through the full pipeline. The result
// is recorded once under a fresh swap id; on emergency stop the recorded
// result carries the abort measure and no execution, and the returned error
// carries the exact predicted and threshold values.
func (e *Engine) ExecuteProtectedSwap(ctx context.Context, params domain.ProtectedSwapParams) (domain.ProtectedSwapResult, error) {
	cfg := e.resolveConfig(params)
	if err := validateSwapParams(params, cfg); err != nil {
		return domain.ProtectedSwapResult{}, err
	}

	original, err := e.predict(ctx, params.FromToken, params.ToToken, params.Amount)
	if err != nil {
		return domain.ProtectedSwapResult{}, fmt.Errorf("protection: prediction: %w", err)
	}

	result := domain.ProtectedSwapResult{
		SwapID:             uuid.New(),
		FromToken:          params.FromToken,
		ToToken:            params.ToToken,
		Amount:             params.Amount,
		OriginalPrediction: original,
		AdjustedPrediction: original,
		Timestamp:          time.Now().UTC(),
	}

	optimizedVenue := e.applyProtectionMeasures(ctx, params, cfg, &result)

	// Emergency stop: the one path that must never reach the router.
	if result.AdjustedPrediction.PredictedSlippageBps > cfg.EmergencyStopThresholdBps {
		tolErr := &domain.ToleranceExceededError{
			PredictedBps:  result.AdjustedPrediction.PredictedSlippageBps,
			MaxAllowedBps: cfg.EmergencyStopThresholdBps,
		}
		result.MeasuresApplied = append(result.MeasuresApplied, domain.EmergencyStop{Reason: tolErr.Error()})
		e.record(ctx, result)
		e.publishSwapEvent(ctx, "swap_aborted", result.SwapID, nil, tolErr.Error())
		e.logger.Warn("emergency stop triggered",
			slog.String("swap_id", result.SwapID.String()),
			slog.Float64("predicted_bps", tolErr.PredictedBps),
			slog.Float64("threshold_bps", tolErr.MaxAllowedBps),
		)
		return result, tolErr
	}

	// Validation always holds the line at the configured max. The recomputed
	// dynamic tolerance is an audit record, not a wider gate.
	if cfg.PreTradeValidation {
		if result.AdjustedPrediction.PredictedSlippageBps > cfg.MaxSlippageBps {
			tolErr := &domain.ToleranceExceededError{
				PredictedBps:  result.AdjustedPrediction.PredictedSlippageBps,
				MaxAllowedBps: cfg.MaxSlippageBps,
			}
			e.record(ctx, result)
			e.publishSwapEvent(ctx, "swap_aborted", result.SwapID, nil, tolErr.Error())
			return result, tolErr
		}
		if original.ConfidenceScore < confidenceWarnFloor {
			e.logger.Warn("low prediction confidence",
				slog.String("swap_id", result.SwapID.String()),
				slog.Float64("confidence", original.ConfidenceScore),
			)
		}
	}

	execution, err := e.executeSwap(ctx, params, result.AdjustedPrediction.PredictedSlippageBps)
	if err != nil {
		e.record(ctx, result)
		e.publishSwapEvent(ctx, "swap_aborted", result.SwapID, nil, err.Error())
		return result, fmt.Errorf("protection: swap execution: %w", err)
	}
	result.Execution = &execution

	e.analyze(ctx, params, cfg, &result, optimizedVenue)

	e.record(ctx, result)
	e.publishSwapEvent(ctx, "swap_protected", result.SwapID, result.ActualSlippageBps, "")
	e.logger.Info("protected swap executed",
		slog.String("swap_id", result.SwapID.String()),
		slog.String("pair", domain.PairKey(params.FromToken, params.ToToken)),
		slog.Float64("amount", params.Amount),
		slog.Int("measures", len(result.MeasuresApplied)),
	)
	return result, nil
}

// applyProtectionMeasures mutates the adjusted prediction and collects the
// audit trail. It returns the venue chosen by route optimization ("" when
// none).
func (e *Engine) applyProtectionMeasures(ctx context.Context, params domain.ProtectedSwapParams, cfg domain.SlippageProtectionConfig, result *domain.ProtectedSwapResult) string {
	if cfg.DynamicAdjustment {
		adjusted := dynamicTolerance(cfg.MaxSlippageBps, result.OriginalPrediction)
		if adjusted != cfg.MaxSlippageBps {
			result.MeasuresApplied = append(result.MeasuresApplied, domain.DynamicSlippageAdjustment{
				OldToleranceBps: cfg.MaxSlippageBps,
				NewToleranceBps: adjusted,
			})
		}
	}

	optimizedVenue := ""
	if cfg.RouteOptimization {
		if venue, original, ok := e.optimizeRoute(ctx, params); ok {
			result.MeasuresApplied = append(result.MeasuresApplied, domain.RouteOptimization{
				OriginalRoute:  original,
				OptimizedRoute: venue,
			})
			result.AdjustedPrediction.PredictedSlippageBps *= routeCredit
			optimizedVenue = venue
		}
	}

	if max := result.OriginalPrediction.RecommendedMaxTradeSize; max > 0 && params.Amount > max {
		chunks := int(math.Ceil(params.Amount / max))
		result.MeasuresApplied = append(result.MeasuresApplied, domain.OrderSplittingAdvice{
			Chunks:    chunks,
			ChunkSize: params.Amount / float64(chunks),
		})
		result.AdjustedPrediction.PredictedSlippageBps *= splitCredit
	}

	return optimizedVenue
}

// dynamicTolerance recomputes the tolerance the audit trail reports from the
// prediction's confidence and volatility, clamped to [10, 1000] bps.
func dynamicTolerance(baseBps float64, prediction domain.SlippagePrediction) float64 {
	tolerance := baseBps
	if prediction.ConfidenceScore < lowConfidence {
		tolerance *= lowConfFactor
	} else if prediction.ConfidenceScore > highConfidence {
		tolerance *= highConfFactor
	}
	tolerance += prediction.VolatilityAdjustment / 100 * volatilityCreditBps
	return math.Max(minToleranceBps, math.Min(maxToleranceBps, tolerance))
}

// optimizeRoute scores the aggregator's routes and returns the best venue
// together with the current (first-ranked) one. Quote failures skip the
// measure rather than failing the pipeline.
func (e *Engine) optimizeRoute(ctx context.Context, params domain.ProtectedSwapParams) (best, original string, ok bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	quote, err := e.router.GetQuote(callCtx, params.FromToken, params.ToToken, params.Amount)
	if err != nil || len(quote.Routes) == 0 {
		if err != nil {
			e.logger.Warn("route optimization quote failed", slog.String("error", err.Error()))
		}
		return "", "", false
	}

	original = quote.Routes[0].Venue
	best = original
	bestScore := math.Inf(-1)
	for _, r := range quote.Routes {
		score := r.AmountOut - routeComplexityPenalty - r.GasUsed/gasPenaltyDivisor
		if score > bestScore {
			bestScore = score
			best = r.Venue
		}
	}
	return best, original, true
}

// executeSwap submits the swap using the adjusted predicted slippage as the
// execution parameter, converted to the router's percentage contract.
func (e *Engine) executeSwap(ctx context.Context, params domain.ProtectedSwapParams, adjustedBps float64) (domain.SwapResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.router.ExecuteSwap(callCtx, domain.SwapRequest{
		FromToken:   params.FromToken,
		ToToken:     params.ToToken,
		AmountIn:    params.Amount,
		SlippagePct: adjustedBps / 100,
	})
}

// analyze derives realized slippage against a fresh reference quote and the
// protection effectiveness, then feeds the outcome back to the predictor
// when post-trade analysis is enabled. Reference-quote failures leave the
// result unanalyzed rather than failing the swap.
func (e *Engine) analyze(ctx context.Context, params domain.ProtectedSwapParams, cfg domain.SlippageProtectionConfig, result *domain.ProtectedSwapResult, venue string) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	reference, err := e.router.GetQuote(callCtx, params.FromToken, params.ToToken, params.Amount)
	if err != nil || reference.AmountOut <= 0 {
		if err != nil {
			e.logger.Warn("reference quote failed, skipping analysis",
				slog.String("swap_id", result.SwapID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	actual := math.Max(0, (reference.AmountOut-result.Execution.AmountOut)/reference.AmountOut*10000)
	result.ActualSlippageBps = &actual

	effectiveness := protectionEffectiveness(
		result.OriginalPrediction.PredictedSlippageBps,
		result.AdjustedPrediction.PredictedSlippageBps,
		actual,
	)
	result.ProtectionEffectiveness = &effectiveness

	if cfg.PostTradeAnalysis {
		e.recordFeedback(ctx, params, result, reference.AmountOut, actual, venue)
	}
}

// protectionEffectiveness measures how much the adjustments improved the
// prediction: 1 when adjustment removed the whole error, 0 when it helped
// not at all (or made things worse). An already-perfect original prediction
// counts as fully effective.
func protectionEffectiveness(originalBps, adjustedBps, actualBps float64) float64 {
	originalErr := math.Abs(originalBps - actualBps)
	if originalErr == 0 {
		return 1
	}
	adjustedErr := math.Abs(adjustedBps - actualBps)
	return clamp01((originalErr - adjustedErr) / originalErr)
}

func (e *Engine) recordFeedback(ctx context.Context, params domain.ProtectedSwapParams, result *domain.ProtectedSwapResult, referenceOut, actualBps float64, venue string) {
	if venue == "" {
		venue = "aggregator"
	}
	point := domain.SlippageDataPoint{
		Timestamp:      result.Timestamp,
		TradeSizeUSD:   params.Amount,
		ExpectedOutput: referenceOut,
		ActualOutput:   result.Execution.AmountOut,
		SlippageBps:    actualBps,
		Venue:          venue,
		TokenPair:      domain.PairKey(params.FromToken, params.ToToken),
		Volatility:     result.OriginalPrediction.VolatilityAdjustment,
		LiquidityDepth: result.OriginalPrediction.LiquidityScore,
	}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	if err := e.predictor.RecordSlippageData(callCtx, point); err != nil {
		e.logger.Warn("slippage feedback failed",
			slog.String("swap_id", result.SwapID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) predict(ctx context.Context, fromToken, toToken string, amount float64) (domain.SlippagePrediction, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.predictor.PredictSlippage(callCtx, fromToken, toToken, amount)
}

// resolveConfig picks, in order: the caller's explicit config, the user's
// stored override, the engine defaults.
func (e *Engine) resolveConfig(params domain.ProtectedSwapParams) domain.SlippageProtectionConfig {
	if params.Config.MaxSlippageBps > 0 {
		return params.Config
	}
	if params.UserID != "" {
		if cfg, ok := e.UserConfig(params.UserID); ok {
			return cfg
		}
	}
	return e.opts.Defaults
}

// record stores the write-once result and mirrors it to the audit store.
func (e *Engine) record(ctx context.Context, result domain.ProtectedSwapResult) {
	if err := e.results.Put(result); err != nil {
		e.logger.Error("result ledger write failed",
			slog.String("swap_id", result.SwapID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if e.store == nil {
		return
	}
	if err := e.store.SaveResult(ctx, result); err != nil {
		e.logger.Warn("swap audit write failed",
			slog.String("swap_id", result.SwapID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publishSwapEvent(ctx context.Context, eventType string, swapID uuid.UUID, actualBps *float64, reason string) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.SwapEvent{
		Type:              eventType,
		SwapID:            swapID,
		ActualSlippageBps: actualBps,
		Reason:            reason,
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelSwaps, payload); err != nil {
		e.logger.Debug("swap event publish failed", slog.String("error", err.Error()))
	}
}

func validateSwapParams(params domain.ProtectedSwapParams, cfg domain.SlippageProtectionConfig) error {
	if params.FromToken == "" || params.ToToken == "" {
		return fmt.Errorf("protection: token pair is required: %w", domain.ErrInvalidParameters)
	}
	if params.Amount <= 0 {
		return fmt.Errorf("protection: amount must be positive: %w", domain.ErrInvalidParameters)
	}
	if cfg.MaxSlippageBps <= 0 || cfg.MaxSlippageBps > 10000 {
		return fmt.Errorf("protection: slippage tolerance must be in (0, 10000] bps: %w", domain.ErrInvalidParameters)
	}
	if cfg.EmergencyStopThresholdBps <= 0 {
		return fmt.Errorf("protection: emergency stop threshold must be positive: %w", domain.ErrInvalidParameters)
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
