package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

// ProtectionService defines the methods the swap handler requires from the
// slippage protection engine.
type ProtectionService interface {
	ExecuteProtectedSwap(ctx context.Context, params domain.ProtectedSwapParams) (domain.ProtectedSwapResult, error)
	AnalyzeSlippagePerformance(swapID uuid.UUID) (domain.SlippageAnalysis, error)
	GetProtectionStatistics() domain.ProtectionStats
}

// SwapHandler serves the protected-swap HTTP endpoints.
type SwapHandler struct {
	protection ProtectionService
	logger     *slog.Logger
}

// NewSwapHandler creates a SwapHandler with the given engine and logger.
func NewSwapHandler(protection ProtectionService, logger *slog.Logger) *SwapHandler {
	return &SwapHandler{
		protection: protection,
		logger:     logger,
	}
}

type protectionConfigRequest struct {
	MaxSlippageBps            float64 `json:"max_slippage_bps"`
	DynamicAdjustment         bool    `json:"dynamic_adjustment"`
	RouteOptimization         bool    `json:"route_optimization"`
	PreTradeValidation        bool    `json:"pre_trade_validation"`
	PostTradeAnalysis         bool    `json:"post_trade_analysis"`
	EmergencyStopThresholdBps float64 `json:"emergency_stop_threshold_bps"`
}

type protectedSwapRequest struct {
	FromToken string                   `json:"from_token"`
	ToToken   string                   `json:"to_token"`
	Amount    float64                  `json:"amount"`
	UserID    string                   `json:"user_id"`
	Priority  string                   `json:"priority"`
	Config    *protectionConfigRequest `json:"config"`
}

// ExecuteProtected runs one swap through the protection pipeline.
// POST /api/swaps/protected
func (h *SwapHandler) ExecuteProtected(w http.ResponseWriter, r *http.Request) {
	var req protectedSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	priority, ok := parsePriority(req.Priority)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown priority: "+req.Priority)
		return
	}

	params := domain.ProtectedSwapParams{
		FromToken: req.FromToken,
		ToToken:   req.ToToken,
		Amount:    req.Amount,
		UserID:    req.UserID,
		Priority:  priority,
	}
	if req.Config != nil {
		params.Config = domain.SlippageProtectionConfig{
			MaxSlippageBps:            req.Config.MaxSlippageBps,
			DynamicAdjustment:         req.Config.DynamicAdjustment,
			RouteOptimization:         req.Config.RouteOptimization,
			PreTradeValidation:        req.Config.PreTradeValidation,
			PostTradeAnalysis:         req.Config.PostTradeAnalysis,
			EmergencyStopThresholdBps: req.Config.EmergencyStopThresholdBps,
		}
	}

	result, err := h.protection.ExecuteProtectedSwap(r.Context(), params)
	if err != nil {
		var tolErr *domain.ToleranceExceededError
		switch {
		case errors.As(err, &tolErr):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":                  tolErr.Error(),
				"predicted_slippage_bps": tolErr.PredictedBps,
				"max_allowed_bps":        tolErr.MaxAllowedBps,
			})
		case errors.Is(err, domain.ErrInvalidParameters):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: protected swap failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "swap execution failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, newSwapResultResponse(result))
}

type marketSnapshotResponse struct {
	Timestamp      time.Time `json:"timestamp"`
	Volatility     float64   `json:"volatility"`
	LiquidityDepth float64   `json:"liquidity_depth"`
	SpreadBps      float64   `json:"spread_bps"`
	RecentVolume   float64   `json:"recent_volume"`
}

type analysisResponse struct {
	TradeID                 uuid.UUID              `json:"trade_id"`
	PredictedSlippageBps    float64                `json:"predicted_slippage_bps"`
	ActualSlippageBps       float64                `json:"actual_slippage_bps"`
	PredictionAccuracy      float64                `json:"prediction_accuracy"`
	ProtectionEffectiveness float64                `json:"protection_effectiveness"`
	MarketConditions        marketSnapshotResponse `json:"market_conditions"`
	Notes                   []string               `json:"notes"`
}

// GetAnalysis returns the post-trade analysis for one recorded swap.
// GET /api/swaps/{id}/analysis
func (h *SwapHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	swapID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid swap id")
		return
	}

	analysis, err := h.protection.AnalyzeSlippagePerformance(swapID)
	if err != nil {
		if errors.Is(err, domain.ErrSwapNotFound) {
			writeError(w, http.StatusNotFound, "swap not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: analysis failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to analyze swap")
		return
	}

	notes := analysis.Notes
	if notes == nil {
		notes = []string{}
	}
	writeJSON(w, http.StatusOK, analysisResponse{
		TradeID:                 analysis.TradeID,
		PredictedSlippageBps:    analysis.PredictedSlippageBps,
		ActualSlippageBps:       analysis.ActualSlippageBps,
		PredictionAccuracy:      analysis.PredictionAccuracy,
		ProtectionEffectiveness: analysis.ProtectionEffectiveness,
		MarketConditions: marketSnapshotResponse{
			Timestamp:      analysis.MarketConditions.Timestamp,
			Volatility:     analysis.MarketConditions.Volatility,
			LiquidityDepth: analysis.MarketConditions.LiquidityDepth,
			SpreadBps:      analysis.MarketConditions.SpreadBps,
			RecentVolume:   analysis.MarketConditions.RecentVolume,
		},
		Notes: notes,
	})
}

type statsResponse struct {
	TotalTrades          int     `json:"total_trades"`
	SuccessfulTrades     int     `json:"successful_trades"`
	SuccessRate          float64 `json:"success_rate"`
	AvgEffectiveness     float64 `json:"avg_effectiveness"`
	AvgActualSlippageBps float64 `json:"avg_actual_slippage_bps"`
}

// GetStats returns aggregate protection statistics.
// GET /api/protection/stats
func (h *SwapHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.protection.GetProtectionStatistics()
	writeJSON(w, http.StatusOK, statsResponse{
		TotalTrades:          stats.TotalTrades,
		SuccessfulTrades:     stats.SuccessfulTrades,
		SuccessRate:          stats.SuccessRate,
		AvgEffectiveness:     stats.AvgEffectiveness,
		AvgActualSlippageBps: stats.AvgActualSlippageBps,
	})
}

func parsePriority(s string) (domain.SwapPriority, bool) {
	switch s {
	case "", string(domain.PriorityBalanced):
		return domain.PriorityBalanced, true
	case string(domain.PrioritySpeed):
		return domain.PrioritySpeed, true
	case string(domain.PriorityPrice):
		return domain.PriorityPrice, true
	case string(domain.PriorityProtection):
		return domain.PriorityProtection, true
	default:
		return "", false
	}
}
