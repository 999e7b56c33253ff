package splitter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

// twapChunks slices the order into equal chunks spaced evenly across the
// time window. Chunk size is capped at the predictor's recommended maximum.
func (s *Splitter) twapChunks(ctx context.Context, params domain.OrderSplitParams, strat domain.TWAP, prediction domain.SlippagePrediction, now time.Time) ([]domain.OrderChunk, error) {
	if strat.Intervals <= 0 {
		return nil, fmt.Errorf("splitter: twap intervals must be positive: %w", domain.ErrInvalidParameters)
	}

	chunkSize := params.TotalAmount / float64(strat.Intervals)
	if prediction.RecommendedMaxTradeSize > 0 && chunkSize > prediction.RecommendedMaxTradeSize {
		chunkSize = prediction.RecommendedMaxTradeSize
	}
	spacing := params.TimeWindow / time.Duration(strat.Intervals)

	chunks := make([]domain.OrderChunk, 0, strat.Intervals)
	for i := 0; i < strat.Intervals; i++ {
		amount := chunkSize
		if i == strat.Intervals-1 {
			// Last chunk absorbs rounding drift so sizes sum to the total.
			amount = params.TotalAmount - chunkSize*float64(strat.Intervals-1)
		}
		chunks = append(chunks, domain.OrderChunk{
			ID:             uuid.New(),
			FromToken:      params.FromToken,
			ToToken:        params.ToToken,
			Amount:         amount,
			ReadyAt:        now.Add(time.Duration(i) * spacing),
			Venues:         s.selectVenues(ctx, params.FromToken, params.ToToken, amount),
			MaxSlippageBps: params.MaxSlippageBps,
			Priority:       i + 1,
			Status:         domain.ChunkStatus{State: domain.ChunkPending},
		})
	}
	return chunks, nil
}

// vwapChunks places one chunk per volume window, sized to the window's share
// of expected volume and capped at the recommended maximum. Any residual
// left after the last window folds into the final chunk so the plan always
// covers the full amount.
func (s *Splitter) vwapChunks(ctx context.Context, params domain.OrderSplitParams, strat domain.VWAP, prediction domain.SlippagePrediction, now time.Time) ([]domain.OrderChunk, error) {
	if strat.VolumeTarget < 0 {
		return nil, fmt.Errorf("splitter: vwap volume target must not be negative: %w", domain.ErrInvalidParameters)
	}

	pair := domain.PairKey(params.FromToken, params.ToToken)
	profile := s.profiles.profile(ctx, pair, now, params.TimeWindow, s.logger)

	remaining := params.TotalAmount
	chunks := make([]domain.OrderChunk, 0, len(profile))
	for i, window := range profile {
		if remaining <= 0 {
			break
		}
		amount := params.TotalAmount * window.Weight
		if prediction.RecommendedMaxTradeSize > 0 && amount > prediction.RecommendedMaxTradeSize {
			amount = prediction.RecommendedMaxTradeSize
		}
		if amount > remaining {
			amount = remaining
		}
		if amount <= 0 {
			continue
		}
		chunks = append(chunks, domain.OrderChunk{
			ID:             uuid.New(),
			FromToken:      params.FromToken,
			ToToken:        params.ToToken,
			Amount:         amount,
			ReadyAt:        window.Start,
			Venues:         s.selectVenues(ctx, params.FromToken, params.ToToken, amount),
			MaxSlippageBps: params.MaxSlippageBps,
			Priority:       i + 1,
			Status:         domain.ChunkStatus{State: domain.ChunkPending},
		})
		remaining -= amount
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("splitter: vwap plan produced no chunks: %w", domain.ErrInvalidParameters)
	}
	if remaining > 1e-9 {
		chunks[len(chunks)-1].Amount += remaining
	}
	return chunks, nil
}

// icebergChunks repeatedly exposes the visible slice until the total is
// exhausted. Chunks route to the default venue; an iceberg leg should not
// advertise liquidity demand by shopping quotes per slice.
func (s *Splitter) icebergChunks(params domain.OrderSplitParams, strat domain.Iceberg, prediction domain.SlippagePrediction, now time.Time) ([]domain.OrderChunk, error) {
	if strat.VisibleSizePercent <= 0 || strat.VisibleSizePercent > 100 {
		return nil, fmt.Errorf("splitter: iceberg visible size must be in (0, 100] percent: %w", domain.ErrInvalidParameters)
	}

	chunkSize := params.TotalAmount * strat.VisibleSizePercent / 100
	if prediction.RecommendedMaxTradeSize > 0 && chunkSize > prediction.RecommendedMaxTradeSize {
		chunkSize = prediction.RecommendedMaxTradeSize
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("splitter: iceberg chunk size collapsed to zero: %w", domain.ErrInvalidParameters)
	}

	numChunks := int(math.Ceil(params.TotalAmount / chunkSize))
	spacing := params.TimeWindow / time.Duration(numChunks)

	remaining := params.TotalAmount
	chunks := make([]domain.OrderChunk, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		amount := math.Min(chunkSize, remaining)
		chunks = append(chunks, domain.OrderChunk{
			ID:             uuid.New(),
			FromToken:      params.FromToken,
			ToToken:        params.ToToken,
			Amount:         amount,
			ReadyAt:        now.Add(time.Duration(i) * spacing),
			Venues:         []string{s.opts.DefaultVenue},
			MaxSlippageBps: params.MaxSlippageBps,
			Priority:       i + 1,
			Status:         domain.ChunkStatus{State: domain.ChunkPending},
		})
		remaining -= amount
	}
	return chunks, nil
}

// adaptiveChunks sizes chunks from the recommended trade size scaled by the
// aggressiveness knob. Aggressive plans trade faster and accept a wider
// per-chunk slippage cap.
func (s *Splitter) adaptiveChunks(ctx context.Context, params domain.OrderSplitParams, strat domain.Adaptive, prediction domain.SlippagePrediction, now time.Time) ([]domain.OrderChunk, error) {
	if strat.Aggressiveness < 0 || strat.Aggressiveness > 1 {
		return nil, fmt.Errorf("splitter: adaptive aggressiveness must be in [0, 1]: %w", domain.ErrInvalidParameters)
	}

	chunkSize := prediction.RecommendedMaxTradeSize * (1 + strat.Aggressiveness)
	if half := params.TotalAmount / 2; chunkSize > half {
		chunkSize = half
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("splitter: adaptive chunk size collapsed to zero: %w", domain.ErrInvalidParameters)
	}

	numChunks := int(math.Ceil(params.TotalAmount / chunkSize))
	spacing := params.TimeWindow / time.Duration(numChunks)
	if strat.Aggressiveness > 0.5 {
		spacing /= 2
	}

	remaining := params.TotalAmount
	chunks := make([]domain.OrderChunk, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		amount := math.Min(chunkSize, remaining)
		chunks = append(chunks, domain.OrderChunk{
			ID:             uuid.New(),
			FromToken:      params.FromToken,
			ToToken:        params.ToToken,
			Amount:         amount,
			ReadyAt:        now.Add(time.Duration(i) * spacing),
			Venues:         s.selectVenues(ctx, params.FromToken, params.ToToken, amount),
			MaxSlippageBps: params.MaxSlippageBps * (1 + strat.Aggressiveness),
			Priority:       i + 1,
			Status:         domain.ChunkStatus{State: domain.ChunkPending},
		})
		remaining -= amount
	}
	return chunks, nil
}
