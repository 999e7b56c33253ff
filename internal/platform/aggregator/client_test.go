package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dexguard/internal/domain"
)

func TestGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("from_token"); got != "WETH" {
			t.Errorf("from_token = %s", got)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret" {
			t.Errorf("api key header = %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"amount_out": 995.5,
			"routes": []map[string]any{
				{"venue": "uniswap", "amount_out": 995.5, "gas_used": 180000.0},
				{"venue": "curve", "amount_out": 994.0, "gas_used": 120000.0},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second)
	quote, err := c.GetQuote(context.Background(), "WETH", "USDC", 1000)
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if quote.AmountOut != 995.5 {
		t.Errorf("amount out = %f", quote.AmountOut)
	}
	if len(quote.Routes) != 2 || quote.Routes[0].Venue != "uniswap" {
		t.Errorf("routes = %+v", quote.Routes)
	}
}

func TestExecuteSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/swap" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["slippage_pct"] != 0.425 {
			t.Errorf("slippage_pct = %v", req["slippage_pct"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"amount_out": 990.0,
			"gas_used":   150000,
			"tx_hash":    "0x1111111111111111111111111111111111111111111111111111111111111111",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	res, err := c.ExecuteSwap(context.Background(), domain.SwapRequest{
		FromToken:   "WETH",
		ToToken:     "USDC",
		AmountIn:    1000,
		SlippagePct: 0.425,
	})
	if err != nil {
		t.Fatalf("ExecuteSwap failed: %v", err)
	}
	if res.AmountOut != 990 {
		t.Errorf("amount out = %f", res.AmountOut)
	}
	if res.TxHash.Hex() != "0x1111111111111111111111111111111111111111111111111111111111111111" {
		t.Errorf("tx hash = %s", res.TxHash.Hex())
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no route", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	if _, err := c.GetQuote(context.Background(), "WETH", "USDC", 1000); err == nil {
		t.Error("expected error on 502")
	}
}
