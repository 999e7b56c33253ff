// Package predictor is the REST client for the slippage-prediction
// service. It implements domain.SlippagePredictor; model internals stay on
// the other side of the wire.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dexguard/internal/domain"
)

// Client is the REST client for the prediction API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new predictor client.
//
// baseURL is the prediction API root, e.g. "https://predictor.example.com".
// apiKey may be empty for unauthenticated deployments.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// predictRequest is the wire form of a prediction request.
type predictRequest struct {
	FromToken string  `json:"from_token"`
	ToToken   string  `json:"to_token"`
	Amount    float64 `json:"amount"`
}

// apiPrediction is the wire form of a prediction response.
type apiPrediction struct {
	PredictedSlippageBps    float64   `json:"predicted_slippage_bps"`
	ConfidenceScore         float64   `json:"confidence_score"`
	MarketImpactEstimate    float64   `json:"market_impact_estimate"`
	RecommendedMaxTradeSize float64   `json:"recommended_max_trade_size"`
	VolatilityAdjustment    float64   `json:"volatility_adjustment"`
	LiquidityScore          float64   `json:"liquidity_score"`
	PredictedAt             time.Time `json:"prediction_timestamp"`
}

// PredictSlippage returns the model's estimate for one trade.
func (c *Client) PredictSlippage(ctx context.Context, fromToken, toToken string, amount float64) (domain.SlippagePrediction, error) {
	body, err := c.doPost(ctx, "/predict", predictRequest{
		FromToken: fromToken,
		ToToken:   toToken,
		Amount:    amount,
	})
	if err != nil {
		return domain.SlippagePrediction{}, fmt.Errorf("predictor: predict %s: %w", domain.PairKey(fromToken, toToken), err)
	}

	var p apiPrediction
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.SlippagePrediction{}, fmt.Errorf("predictor: decode prediction: %w", err)
	}

	return domain.SlippagePrediction{
		PredictedSlippageBps:    p.PredictedSlippageBps,
		ConfidenceScore:         p.ConfidenceScore,
		MarketImpactEstimate:    p.MarketImpactEstimate,
		RecommendedMaxTradeSize: p.RecommendedMaxTradeSize,
		VolatilityAdjustment:    p.VolatilityAdjustment,
		LiquidityScore:          p.LiquidityScore,
		PredictedAt:             p.PredictedAt,
	}, nil
}

// apiDataPoint is the wire form of one realized-outcome sample.
type apiDataPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	TradeSizeUSD   float64   `json:"trade_size_usd"`
	ExpectedOutput float64   `json:"expected_output"`
	ActualOutput   float64   `json:"actual_output"`
	SlippageBps    float64   `json:"slippage_bps"`
	Venue          string    `json:"venue"`
	TokenPair      string    `json:"token_pair"`
	Volatility     float64   `json:"volatility"`
	LiquidityDepth float64   `json:"liquidity_depth"`
}

// RecordSlippageData feeds one realized outcome back to the model.
func (c *Client) RecordSlippageData(ctx context.Context, point domain.SlippageDataPoint) error {
	_, err := c.doPost(ctx, "/datapoints", apiDataPoint{
		Timestamp:      point.Timestamp,
		TradeSizeUSD:   point.TradeSizeUSD,
		ExpectedOutput: point.ExpectedOutput,
		ActualOutput:   point.ActualOutput,
		SlippageBps:    point.SlippageBps,
		Venue:          point.Venue,
		TokenPair:      point.TokenPair,
		Volatility:     point.Volatility,
		LiquidityDepth: point.LiquidityDepth,
	})
	if err != nil {
		return fmt.Errorf("predictor: record data point %s: %w", point.TokenPair, err)
	}
	return nil
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
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

// Compile-time interface check.
var _ domain.SlippagePredictor = (*Client)(nil)
