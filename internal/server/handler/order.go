package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

// SplitOrderService defines the methods the order handler requires from the
// order splitting engine.
type SplitOrderService interface {
	SplitOrder(ctx context.Context, params domain.OrderSplitParams) (domain.SplitOrderExecution, error)
	ExecuteSplitOrder(ctx context.Context, orderID uuid.UUID) (domain.SplitOrderExecution, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) error
	GetOrderStatus(orderID uuid.UUID) (domain.SplitOrderExecution, error)
}

// OrderHandler serves the split-order HTTP endpoints.
type OrderHandler struct {
	orders SplitOrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given engine and logger.
func NewOrderHandler(orders SplitOrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

type strategyRequest struct {
	Type               string  `json:"type"`
	Intervals          int     `json:"intervals"`
	VolumeTarget       float64 `json:"volume_target"`
	VisibleSizePercent float64 `json:"visible_size_percent"`
	Aggressiveness     float64 `json:"aggressiveness"`
}

type splitOrderRequest struct {
	FromToken         string          `json:"from_token"`
	ToToken           string          `json:"to_token"`
	TotalAmount       float64         `json:"total_amount"`
	Strategy          strategyRequest `json:"strategy"`
	MaxSlippageBps    float64         `json:"max_slippage_bps"`
	TimeWindowSeconds float64         `json:"time_window_seconds"`
	MinChunkSize      float64         `json:"min_chunk_size"`
	MaxChunks         int             `json:"max_chunks"`
}

// SplitOrder plans a new split order from the request body.
// POST /api/orders/split
func (h *OrderHandler) SplitOrder(w http.ResponseWriter, r *http.Request) {
	var req splitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	strategy, err := parseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := domain.OrderSplitParams{
		FromToken:      req.FromToken,
		ToToken:        req.ToToken,
		TotalAmount:    req.TotalAmount,
		Strategy:       strategy,
		MaxSlippageBps: req.MaxSlippageBps,
		TimeWindow:     time.Duration(req.TimeWindowSeconds * float64(time.Second)),
		MinChunkSize:   req.MinChunkSize,
		MaxChunks:      req.MaxChunks,
	}

	exec, err := h.orders.SplitOrder(r.Context(), params)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidParameters) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: split order failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to plan split order")
		return
	}

	writeJSON(w, http.StatusCreated, newExecutionResponse(exec))
}

// ExecuteOrder starts executing a planned order in the background. Progress
// is streamed over the WebSocket feed; the final state lands in the order
// status endpoint.
// POST /api/orders/{id}/execute
func (h *OrderHandler) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	exec, err := h.orders.GetOrderStatus(orderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if exec.Status == domain.ExecExecuting {
		writeError(w, http.StatusConflict, "order execution already in progress")
		return
	}

	// The request context dies with the response; execution continues on a
	// detached context.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.orders.ExecuteSplitOrder(ctx, orderID); err != nil {
			h.logger.ErrorContext(ctx, "handler: background execution failed",
				slog.String("order_id", orderID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"order_id":     orderID,
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetOrder returns the current execution snapshot for one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	exec, err := h.orders.GetOrderStatus(orderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	writeJSON(w, http.StatusOK, newExecutionResponse(exec))
}

// CancelOrder cancels a planned or running order. Pending chunks are failed;
// completed chunks keep their fills.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	if err := h.orders.CancelOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
			slog.String("order_id", orderID.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"order_id": orderID.String(),
		"status":   "cancelled",
	})
}

func parseStrategy(req strategyRequest) (domain.SplittingStrategy, error) {
	switch req.Type {
	case "twap":
		return domain.TWAP{Intervals: req.Intervals}, nil
	case "vwap":
		return domain.VWAP{VolumeTarget: req.VolumeTarget}, nil
	case "iceberg":
		return domain.Iceberg{VisibleSizePercent: req.VisibleSizePercent}, nil
	case "adaptive":
		return domain.Adaptive{Aggressiveness: req.Aggressiveness}, nil
	case "":
		return nil, fmt.Errorf("strategy type is required")
	default:
		return nil, fmt.Errorf("unknown strategy type: %s", req.Type)
	}
}
