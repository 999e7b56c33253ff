// Package aggregator is the REST client for the DEX-aggregator routing
// backend. It implements domain.LiquidityRouter; settlement correctness is
// the backend's responsibility.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dexguard/internal/domain"
)

// Client is the REST client for the aggregator API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new aggregator client.
//
// baseURL is the aggregator API root, e.g. "https://router.example.com/v1".
// apiKey may be empty for unauthenticated deployments.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiRoute is the wire form of one venue leg in a quote response.
type apiRoute struct {
	Venue     string  `json:"venue"`
	AmountOut float64 `json:"amount_out"`
	GasUsed   float64 `json:"gas_used"`
}

// apiQuote is the wire form of a quote response.
type apiQuote struct {
	AmountOut float64    `json:"amount_out"`
	Routes    []apiRoute `json:"routes"`
}

// GetQuote returns the aggregator's output estimate and ranked venue
// breakdown for a trade.
func (c *Client) GetQuote(ctx context.Context, fromToken, toToken string, amountIn float64) (domain.Quote, error) {
	params := url.Values{}
	params.Set("from_token", fromToken)
	params.Set("to_token", toToken)
	params.Set("amount", strconv.FormatFloat(amountIn, 'f', -1, 64))

	body, err := c.doGet(ctx, "/quote?"+params.Encode())
	if err != nil {
		return domain.Quote{}, fmt.Errorf("aggregator: get quote %s: %w", domain.PairKey(fromToken, toToken), err)
	}

	var quote apiQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return domain.Quote{}, fmt.Errorf("aggregator: decode quote: %w", err)
	}

	routes := make([]domain.RouteQuote, 0, len(quote.Routes))
	for _, r := range quote.Routes {
		routes = append(routes, domain.RouteQuote{
			Venue:     r.Venue,
			AmountOut: r.AmountOut,
			GasUsed:   r.GasUsed,
		})
	}
	return domain.Quote{AmountOut: quote.AmountOut, Routes: routes}, nil
}

// swapRequest is the wire form of a swap submission.
type swapRequest struct {
	FromToken   string  `json:"from_token"`
	ToToken     string  `json:"to_token"`
	AmountIn    float64 `json:"amount_in"`
	SlippagePct float64 `json:"slippage_pct"`
	UserAddress string  `json:"user_address,omitempty"`
}

// swapResponse is the wire form of a settlement summary.
type swapResponse struct {
	AmountOut float64 `json:"amount_out"`
	GasUsed   uint64  `json:"gas_used"`
	TxHash    string  `json:"tx_hash"`
}

// ExecuteSwap submits a swap for execution and returns the settlement
// summary.
func (c *Client) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	payload := swapRequest{
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		AmountIn:    req.AmountIn,
		SlippagePct: req.SlippagePct,
	}
	if req.UserAddress != (common.Address{}) {
		payload.UserAddress = req.UserAddress.Hex()
	}

	body, err := c.doPost(ctx, "/swap", payload)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("aggregator: execute swap %s: %w", domain.PairKey(req.FromToken, req.ToToken), err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SwapResult{}, fmt.Errorf("aggregator: decode swap result: %w", err)
	}

	return domain.SwapResult{
		AmountOut: resp.AmountOut,
		GasUsed:   resp.GasUsed,
		TxHash:    common.HexToHash(resp.TxHash),
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// Compile-time interface check.
var _ domain.LiquidityRouter = (*Client)(nil)
