// Package splitter turns one large logical order into a time-phased plan of
// smaller chunks and executes that plan against the liquidity router,
// chunk by chunk, tolerating partial failures.
package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
	"dexguard/internal/ledger"
)

// Options tune the splitter's interaction with collaborators.
type Options struct {
	// CallTimeout bounds every predictor/router call. Zero means 30s.
	CallTimeout time.Duration

	// DefaultVenue is the fallback venue when the router cannot rank any.
	DefaultVenue string
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.DefaultVenue == "" {
		o.DefaultVenue = "uniswap"
	}
	return o
}

// Splitter plans and executes split orders. Shared state lives in the
// order ledger; the splitter itself only holds collaborators and the
// per-order cancel signals.
type Splitter struct {
	router    domain.LiquidityRouter
	predictor domain.SlippagePredictor
	orders    *ledger.OrderLedger
	profiles  *volumeProfiles
	opts      Options
	logger    *slog.Logger

	store domain.ExecutionStore // optional audit write-through
	bus   domain.EventBus       // optional progress stream

	cancelMu sync.Mutex
	cancels  map[uuid.UUID]chan struct{}
}

// New creates a Splitter backed by the given collaborators and ledger.
func New(router domain.LiquidityRouter, predictor domain.SlippagePredictor, orders *ledger.OrderLedger, opts Options, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{
		router:    router,
		predictor: predictor,
		orders:    orders,
		profiles:  newVolumeProfiles(nil),
		opts:      opts.withDefaults(),
		logger:    logger.With(slog.String("component", "splitter")),
		cancels:   make(map[uuid.UUID]chan struct{}),
	}
}

// SetAuditStore enables best-effort persistence of execution snapshots.
func (s *Splitter) SetAuditStore(store domain.ExecutionStore) {
	s.store = store
}

// SetEventBus enables progress events on the orders channel.
func (s *Splitter) SetEventBus(bus domain.EventBus) {
	s.bus = bus
}

// SetProfileCache plugs in an external volume-profile cache (e.g. Redis).
func (s *Splitter) SetProfileCache(cache domain.VolumeProfileCache) {
	s.profiles = newVolumeProfiles(cache)
}

// SplitOrder validates params, plans chunks under the requested strategy,
// and stores the resulting execution in the planning state. It does not
// start executing.
func (s *Splitter) SplitOrder(ctx context.Context, params domain.OrderSplitParams) (domain.SplitOrderExecution, error) {
	if err := validateParams(params); err != nil {
		return domain.SplitOrderExecution{}, err
	}

	prediction, err := s.predict(ctx, params.FromToken, params.ToToken, params.TotalAmount)
	if err != nil {
		return domain.SplitOrderExecution{}, fmt.Errorf("splitter: full-order prediction: %w", err)
	}

	now := time.Now().UTC()
	var chunks []domain.OrderChunk
	switch strat := params.Strategy.(type) {
	case domain.TWAP:
		chunks, err = s.twapChunks(ctx, params, strat, prediction, now)
	case domain.VWAP:
		chunks, err = s.vwapChunks(ctx, params, strat, prediction, now)
	case domain.Iceberg:
		chunks, err = s.icebergChunks(params, strat, prediction, now)
	case domain.Adaptive:
		chunks, err = s.adaptiveChunks(ctx, params, strat, prediction, now)
	default:
		return domain.SplitOrderExecution{}, fmt.Errorf("splitter: unsupported strategy %T: %w", params.Strategy, domain.ErrInvalidParameters)
	}
	if err != nil {
		return domain.SplitOrderExecution{}, err
	}

	exec := domain.SplitOrderExecution{
		OrderID:   uuid.New(),
		Chunks:    chunks,
		StartedAt: now,
		Status:    domain.ExecPlanning,
	}
	s.orders.Put(exec)
	s.persist(ctx, exec)

	s.logger.Info("split order created",
		slog.String("order_id", exec.OrderID.String()),
		slog.String("strategy", params.Strategy.Name()),
		slog.Int("chunks", len(chunks)),
		slog.Float64("total_amount", params.TotalAmount),
		slog.String("pair", domain.PairKey(params.FromToken, params.ToToken)),
	)
	return exec.Clone(), nil
}

// ExecuteSplitOrder walks the order's chunks strictly in sequence order,
// waiting for each chunk's ready-time before dispatching it. Chunk failures
// do not abort the schedule; the aggregate status is derived at the end.
// At most one executor may run per order.
func (s *Splitter) ExecuteSplitOrder(ctx context.Context, orderID uuid.UUID) (domain.SplitOrderExecution, error) {
	if err := s.orders.Claim(orderID); err != nil {
		return domain.SplitOrderExecution{}, fmt.Errorf("splitter: execute order %s: %w", orderID, err)
	}
	defer s.orders.Release(orderID)

	// The cancel signal must exist before the status is read so a concurrent
	// CancelOrder always finds a channel to close.
	cancelCh := s.cancelSignal(orderID)
	defer s.dropCancelSignal(orderID)

	exec, err := s.orders.Get(orderID)
	if err != nil {
		return domain.SplitOrderExecution{}, fmt.Errorf("splitter: execute order %s: %w", orderID, err)
	}
	if exec.Status.Terminal() {
		// Cancelled or already finished; nothing to run.
		return exec, nil
	}

	// The transition to executing skips orders that went terminal between
	// the read above and this update; a terminal status never regresses.
	started := false
	_ = s.orders.Update(orderID, func(e *domain.SplitOrderExecution) {
		if e.Status.Terminal() {
			return
		}
		e.Status = domain.ExecExecuting
		started = true
	})
	if !started {
		return s.orders.Get(orderID)
	}
	s.logger.Info("executing split order",
		slog.String("order_id", orderID.String()),
		slog.Int("chunks", len(exec.Chunks)),
	)

	for i := range exec.Chunks {
		if s.cancelled(orderID) {
			break
		}
		chunk := exec.Chunks[i]
		if chunk.Status.Terminal() {
			continue
		}

		if !s.waitUntil(ctx, chunk.ReadyAt, cancelCh) {
			break
		}

		_ = s.orders.Update(orderID, func(e *domain.SplitOrderExecution) {
			if !e.Chunks[i].Status.Terminal() {
				e.Chunks[i].Status = domain.ChunkStatus{State: domain.ChunkExecuting}
			}
		})

		out, execErr := s.executeChunk(ctx, chunk)
		if execErr != nil {
			s.logger.Warn("chunk execution failed",
				slog.String("order_id", orderID.String()),
				slog.String("chunk_id", chunk.ID.String()),
				slog.String("error", execErr.Error()),
			)
			_ = s.orders.Update(orderID, func(e *domain.SplitOrderExecution) {
				e.Chunks[i].Status = domain.FailedChunk(execErr.Error())
			})
			s.publishOrderEvent(ctx, "chunk_failed", orderID, &chunk.ID, "")
			continue
		}

		slippageBps := 0.0
		if chunk.Amount > 0 {
			slippageBps = (chunk.Amount - out.AmountOut) / chunk.Amount * 10000
		}
		_ = s.orders.Update(orderID, func(e *domain.SplitOrderExecution) {
			e.Chunks[i].Status = domain.CompletedChunk(out.AmountOut, slippageBps)
			e.TotalExecuted += chunk.Amount
			e.TotalReceived += out.AmountOut
		})
		s.publishOrderEvent(ctx, "chunk_completed", orderID, &chunk.ID, "")
	}

	s.finalize(orderID)

	final, err := s.orders.Get(orderID)
	if err != nil {
		return domain.SplitOrderExecution{}, fmt.Errorf("splitter: reload order %s: %w", orderID, err)
	}
	s.persist(ctx, final)
	s.publishOrderEvent(ctx, "order_done", orderID, nil, final.Status)
	s.logger.Info("split order finished",
		slog.String("order_id", orderID.String()),
		slog.String("status", string(final.Status)),
		slog.Float64("total_received", final.TotalReceived),
		slog.Float64("avg_slippage_bps", final.AverageSlippageBps),
	)
	return final, nil
}

// CancelOrder marks the order failed and every still-pending chunk failed.
// Chunks already executing or completed are untouched; this is a
// scheduling-level cancel, not a trade reversal.
func (s *Splitter) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	err := s.orders.Update(orderID, func(e *domain.SplitOrderExecution) {
		if e.Status.Terminal() {
			return
		}
		e.Status = domain.ExecFailed
		e.StatusError = "Cancelled by user"
		for i := range e.Chunks {
			if e.Chunks[i].Status.State == domain.ChunkPending {
				e.Chunks[i].Status = domain.FailedChunk("Order cancelled")
			}
		}
	})
	if err != nil {
		return fmt.Errorf("splitter: cancel order %s: %w", orderID, err)
	}

	s.cancelMu.Lock()
	if ch, ok := s.cancels[orderID]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	s.cancelMu.Unlock()

	if exec, err := s.orders.Get(orderID); err == nil {
		s.persist(ctx, exec)
	}
	s.logger.Info("order cancelled", slog.String("order_id", orderID.String()))
	return nil
}

// GetOrderStatus returns a snapshot copy of the order's current state.
func (s *Splitter) GetOrderStatus(orderID uuid.UUID) (domain.SplitOrderExecution, error) {
	return s.orders.Get(orderID)
}

// executeChunk dispatches one chunk to the router under the call timeout.
func (s *Splitter) executeChunk(ctx context.Context, chunk domain.OrderChunk) (domain.SwapResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return s.router.ExecuteSwap(callCtx, domain.SwapRequest{
		FromToken:   chunk.FromToken,
		ToToken:     chunk.ToToken,
		AmountIn:    chunk.Amount,
		SlippagePct: chunk.MaxSlippageBps / 100,
	})
}

// finalize derives the terminal status from chunk outcomes. A cancelled
// order keeps its failed status; averages cover completed chunks only.
func (s *Splitter) finalize(orderID uuid.UUID) {
	_ = s.orders.Update(orderID, func(e *domain.SplitOrderExecution) {
		now := time.Now().UTC()
		e.CompletedAt = &now

		completed := 0
		totalSlippage := 0.0
		for _, c := range e.Chunks {
			if c.Status.State == domain.ChunkCompleted {
				completed++
				totalSlippage += c.Status.SlippageBps
			}
		}
		if completed > 0 {
			e.AverageSlippageBps = totalSlippage / float64(completed)
		}

		if e.Status != domain.ExecExecuting {
			return
		}
		switch {
		case completed == len(e.Chunks):
			e.Status = domain.ExecCompleted
		case completed > 0:
			e.Status = domain.ExecPartiallyCompleted
		default:
			e.Status = domain.ExecFailed
			e.StatusError = "all chunks failed"
		}
	})
}

// waitUntil suspends until the ready time, the order's cancel signal, or
// context cancellation. It returns false when the wait was interrupted.
func (s *Splitter) waitUntil(ctx context.Context, readyAt time.Time, cancelCh <-chan struct{}) bool {
	wait := time.Until(readyAt)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-cancelCh:
		return false
	case <-timer.C:
		return true
	}
}

func (s *Splitter) cancelSignal(orderID uuid.UUID) chan struct{} {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	ch, ok := s.cancels[orderID]
	if !ok {
		ch = make(chan struct{})
		s.cancels[orderID] = ch
	}
	return ch
}

func (s *Splitter) dropCancelSignal(orderID uuid.UUID) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	delete(s.cancels, orderID)
}

func (s *Splitter) cancelled(orderID uuid.UUID) bool {
	exec, err := s.orders.Get(orderID)
	if err != nil {
		return true
	}
	return exec.Status.Terminal()
}

func (s *Splitter) predict(ctx context.Context, fromToken, toToken string, amount float64) (domain.SlippagePrediction, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return s.predictor.PredictSlippage(callCtx, fromToken, toToken, amount)
}

// selectVenues asks the router for a ranked venue list sized to the chunk.
// Router failures fall back to the default venue rather than failing the
// plan.
func (s *Splitter) selectVenues(ctx context.Context, fromToken, toToken string, amount float64) []string {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	quote, err := s.router.GetQuote(callCtx, fromToken, toToken, amount)
	if err != nil {
		s.logger.Warn("venue ranking unavailable, using default",
			slog.String("pair", domain.PairKey(fromToken, toToken)),
			slog.String("error", err.Error()),
		)
		return []string{s.opts.DefaultVenue}
	}
	venues := make([]string, 0, len(quote.Routes))
	for _, r := range quote.Routes {
		venues = append(venues, r.Venue)
	}
	if len(venues) == 0 {
		return []string{s.opts.DefaultVenue}
	}
	return venues
}

func (s *Splitter) persist(ctx context.Context, exec domain.SplitOrderExecution) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveExecution(ctx, exec); err != nil {
		s.logger.Warn("execution audit write failed",
			slog.String("order_id", exec.OrderID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Splitter) publishOrderEvent(ctx context.Context, eventType string, orderID uuid.UUID, chunkID *uuid.UUID, status domain.ExecStatus) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.OrderEvent{
		Type:    eventType,
		OrderID: orderID,
		ChunkID: chunkID,
		Status:  status,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelOrders, payload); err != nil {
		s.logger.Debug("order event publish failed", slog.String("error", err.Error()))
	}
}

func validateParams(params domain.OrderSplitParams) error {
	if params.TotalAmount <= 0 {
		return fmt.Errorf("splitter: amount must be positive: %w", domain.ErrInvalidParameters)
	}
	if params.MaxSlippageBps <= 0 || params.MaxSlippageBps > 10000 {
		return fmt.Errorf("splitter: slippage tolerance must be in (0, 10000] bps: %w", domain.ErrInvalidParameters)
	}
	if params.TimeWindow <= 0 {
		return fmt.Errorf("splitter: time window must be positive: %w", domain.ErrInvalidParameters)
	}
	if params.Strategy == nil {
		return fmt.Errorf("splitter: strategy is required: %w", domain.ErrInvalidParameters)
	}
	if params.MinChunkSize < 0 {
		return fmt.Errorf("splitter: min chunk size must not be negative: %w", domain.ErrInvalidParameters)
	}
	if params.MaxChunks < 0 {
		return fmt.Errorf("splitter: max chunks must not be negative: %w", domain.ErrInvalidParameters)
	}
	return nil
}
