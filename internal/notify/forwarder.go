package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"dexguard/internal/domain"
)

// Forwarder bridges the in-process event bus to the notifier. It subscribes
// to the order and swap channels, renders each envelope into a short alert,
// and hands it to the notifier's event filter.
type Forwarder struct {
	bus      domain.EventBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder. The notifier's configured event list
// decides which of the rendered events actually go out.
func NewForwarder(bus domain.EventBus, notifier *Notifier, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_forwarder")),
	}
}

// Run consumes bus events until the context is cancelled or both channels
// close. Delivery failures are logged, not propagated: a flaky webhook must
// not stall the bus.
func (f *Forwarder) Run(ctx context.Context) error {
	orders, err := f.bus.Subscribe(ctx, domain.ChannelOrders)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelOrders, err)
	}
	swaps, err := f.bus.Subscribe(ctx, domain.ChannelSwaps)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelSwaps, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-orders:
			if !ok {
				orders = nil
				break
			}
			f.handleOrderEvent(ctx, payload)
		case payload, ok := <-swaps:
			if !ok {
				swaps = nil
				break
			}
			f.handleSwapEvent(ctx, payload)
		}
		if orders == nil && swaps == nil {
			return nil
		}
	}
}

func (f *Forwarder) handleOrderEvent(ctx context.Context, payload []byte) {
	var ev domain.OrderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.WarnContext(ctx, "undecodable order event", slog.String("error", err.Error()))
		return
	}

	var title, message string
	switch ev.Type {
	case "order_done":
		title = "Split order finished"
		message = fmt.Sprintf("Order %s finished with status %s.", ev.OrderID, ev.Status)
	case "chunk_failed":
		title = "Order chunk failed"
		message = fmt.Sprintf("A chunk of order %s failed to execute.", ev.OrderID)
	default:
		// Per-chunk progress stays on the WebSocket feed.
		return
	}

	if err := f.notifier.Notify(ctx, ev.Type, title, message); err != nil {
		f.logger.ErrorContext(ctx, "order alert delivery failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (f *Forwarder) handleSwapEvent(ctx context.Context, payload []byte) {
	var ev domain.SwapEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.WarnContext(ctx, "undecodable swap event", slog.String("error", err.Error()))
		return
	}

	var title, message string
	switch ev.Type {
	case "swap_aborted":
		title = "Protected swap aborted"
		message = fmt.Sprintf("Swap %s was stopped before execution: %s", ev.SwapID, ev.Reason)
	case "swap_protected":
		title = "Protected swap executed"
		if ev.ActualSlippageBps != nil {
			message = fmt.Sprintf("Swap %s executed with %.1f bps actual slippage.", ev.SwapID, *ev.ActualSlippageBps)
		} else {
			message = fmt.Sprintf("Swap %s executed.", ev.SwapID)
		}
	default:
		return
	}

	if err := f.notifier.Notify(ctx, ev.Type, title, message); err != nil {
		f.logger.ErrorContext(ctx, "swap alert delivery failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}
