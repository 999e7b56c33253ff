package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// RouteQuote is one venue's leg of an aggregated quote.
type RouteQuote struct {
	Venue     string
	AmountOut float64
	GasUsed   float64
}

// Quote is the aggregator's best-effort output estimate for a trade,
// together with the ranked venue breakdown behind it.
type Quote struct {
	AmountOut float64
	Routes    []RouteQuote
}

// SwapRequest is a single swap submitted to the routing backend. The
// slippage parameter is a percentage (bps / 100), matching the aggregator's
// wire contract.
type SwapRequest struct {
	FromToken   string
	ToToken     string
	AmountIn    float64
	SlippagePct float64
	UserAddress common.Address
}

// SwapResult is the routing backend's settlement summary for one swap.
type SwapResult struct {
	AmountOut float64
	GasUsed   uint64
	TxHash    common.Hash
}

// LiquidityRouter is the DEX-aggregator collaborator: quoting and swap
// execution. Settlement correctness is its problem, not ours.
type LiquidityRouter interface {
	GetQuote(ctx context.Context, fromToken, toToken string, amountIn float64) (Quote, error)
	ExecuteSwap(ctx context.Context, req SwapRequest) (SwapResult, error)
}

// PairKey renders a token pair in the canonical "FROM/TO" form used for
// profile caching and feedback records.
func PairKey(fromToken, toToken string) string {
	return fromToken + "/" + toToken
}
