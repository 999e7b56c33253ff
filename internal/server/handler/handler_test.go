package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

type fakeProtection struct {
	result   domain.ProtectedSwapResult
	err      error
	analysis domain.SlippageAnalysis
	stats    domain.ProtectionStats
	params   domain.ProtectedSwapParams
}

func (f *fakeProtection) ExecuteProtectedSwap(_ context.Context, params domain.ProtectedSwapParams) (domain.ProtectedSwapResult, error) {
	f.params = params
	return f.result, f.err
}

func (f *fakeProtection) AnalyzeSlippagePerformance(swapID uuid.UUID) (domain.SlippageAnalysis, error) {
	if f.err != nil {
		return domain.SlippageAnalysis{}, f.err
	}
	a := f.analysis
	a.TradeID = swapID
	return a, nil
}

func (f *fakeProtection) GetProtectionStatistics() domain.ProtectionStats {
	return f.stats
}

type fakeOrders struct {
	exec        domain.SplitOrderExecution
	splitErr    error
	statusErr   error
	cancelErr   error
	splitParams domain.OrderSplitParams
	executed    chan uuid.UUID
	cancelled   []uuid.UUID
}

func (f *fakeOrders) SplitOrder(_ context.Context, params domain.OrderSplitParams) (domain.SplitOrderExecution, error) {
	f.splitParams = params
	return f.exec, f.splitErr
}

func (f *fakeOrders) ExecuteSplitOrder(_ context.Context, orderID uuid.UUID) (domain.SplitOrderExecution, error) {
	if f.executed != nil {
		f.executed <- orderID
	}
	return f.exec, nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, orderID uuid.UUID) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}

func (f *fakeOrders) GetOrderStatus(uuid.UUID) (domain.SplitOrderExecution, error) {
	return f.exec, f.statusErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMux(swaps *SwapHandler, orders *OrderHandler) *http.ServeMux {
	mux := http.NewServeMux()
	if swaps != nil {
		mux.HandleFunc("POST /api/swaps/protected", swaps.ExecuteProtected)
		mux.HandleFunc("GET /api/swaps/{id}/analysis", swaps.GetAnalysis)
		mux.HandleFunc("GET /api/protection/stats", swaps.GetStats)
	}
	if orders != nil {
		mux.HandleFunc("POST /api/orders/split", orders.SplitOrder)
		mux.HandleFunc("POST /api/orders/{id}/execute", orders.ExecuteOrder)
		mux.HandleFunc("GET /api/orders/{id}", orders.GetOrder)
		mux.HandleFunc("DELETE /api/orders/{id}", orders.CancelOrder)
	}
	return mux
}

func TestExecuteProtectedSwapSuccess(t *testing.T) {
	actual := 38.0
	svc := &fakeProtection{
		result: domain.ProtectedSwapResult{
			SwapID:             uuid.New(),
			FromToken:          "ETH",
			ToToken:            "USDC",
			Amount:             1000,
			OriginalPrediction: domain.SlippagePrediction{PredictedSlippageBps: 50},
			AdjustedPrediction: domain.SlippagePrediction{PredictedSlippageBps: 42.5},
			MeasuresApplied: []domain.ProtectionMeasure{
				domain.RouteOptimization{OriginalRoute: "uniswap", OptimizedRoute: "curve"},
			},
			Execution:         &domain.SwapResult{AmountOut: 996, GasUsed: 180000},
			ActualSlippageBps: &actual,
			Timestamp:         time.Now(),
		},
	}
	mux := newMux(NewSwapHandler(svc, testLogger()), nil)

	body := `{"from_token":"ETH","to_token":"USDC","amount":1000,"user_id":"alice","priority":"protection"}`
	req := httptest.NewRequest(http.MethodPost, "/api/swaps/protected", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.params.UserID != "alice" || svc.params.Priority != domain.PriorityProtection {
		t.Errorf("params not forwarded: %+v", svc.params)
	}

	var resp swapResultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Execution == nil || resp.Execution.AmountOut != 996 {
		t.Errorf("unexpected execution: %+v", resp.Execution)
	}
	if len(resp.MeasuresApplied) != 1 || resp.MeasuresApplied[0].Kind != "route_optimization" {
		t.Errorf("unexpected measures: %+v", resp.MeasuresApplied)
	}
}

func TestExecuteProtectedSwapToleranceExceeded(t *testing.T) {
	svc := &fakeProtection{
		err: &domain.ToleranceExceededError{PredictedBps: 620, MaxAllowedBps: 500},
	}
	mux := newMux(NewSwapHandler(svc, testLogger()), nil)

	body := `{"from_token":"ETH","to_token":"USDC","amount":1000}`
	req := httptest.NewRequest(http.MethodPost, "/api/swaps/protected", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["predicted_slippage_bps"] != 620.0 || resp["max_allowed_bps"] != 500.0 {
		t.Errorf("unexpected tolerance payload: %v", resp)
	}
}

func TestExecuteProtectedSwapRejectsUnknownPriority(t *testing.T) {
	mux := newMux(NewSwapHandler(&fakeProtection{}, testLogger()), nil)

	body := `{"from_token":"ETH","to_token":"USDC","amount":1,"priority":"yolo"}`
	req := httptest.NewRequest(http.MethodPost, "/api/swaps/protected", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	svc := &fakeProtection{err: domain.ErrSwapNotFound}
	mux := newMux(NewSwapHandler(svc, testLogger()), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/swaps/"+uuid.NewString()+"/analysis", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	svc := &fakeProtection{stats: domain.ProtectionStats{
		TotalTrades:      4,
		SuccessfulTrades: 3,
		SuccessRate:      0.75,
	}}
	mux := newMux(NewSwapHandler(svc, testLogger()), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/protection/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.TotalTrades != 4 || resp.SuccessRate != 0.75 {
		t.Errorf("unexpected stats: %+v", resp)
	}
}

func TestSplitOrderParsesStrategy(t *testing.T) {
	svc := &fakeOrders{exec: domain.SplitOrderExecution{
		OrderID: uuid.New(),
		Status:  domain.ExecPlanning,
	}}
	mux := newMux(nil, NewOrderHandler(svc, testLogger()))

	body := `{
		"from_token": "ETH",
		"to_token": "USDC",
		"total_amount": 1000,
		"max_slippage_bps": 100,
		"time_window_seconds": 600,
		"strategy": {"type": "twap", "intervals": 5}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/split", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	twap, ok := svc.splitParams.Strategy.(domain.TWAP)
	if !ok || twap.Intervals != 5 {
		t.Errorf("strategy not parsed: %#v", svc.splitParams.Strategy)
	}
	if svc.splitParams.TimeWindow != 10*time.Minute {
		t.Errorf("time window = %v, want 10m", svc.splitParams.TimeWindow)
	}
}

func TestSplitOrderRejectsUnknownStrategy(t *testing.T) {
	mux := newMux(nil, NewOrderHandler(&fakeOrders{}, testLogger()))

	body := `{"from_token":"ETH","to_token":"USDC","total_amount":1,"strategy":{"type":"martingale"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/split", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteOrderRunsInBackground(t *testing.T) {
	orderID := uuid.New()
	svc := &fakeOrders{
		exec:     domain.SplitOrderExecution{OrderID: orderID, Status: domain.ExecPlanning},
		executed: make(chan uuid.UUID, 1),
	}
	mux := newMux(nil, NewOrderHandler(svc, testLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/orders/"+orderID.String()+"/execute", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	select {
	case got := <-svc.executed:
		if got != orderID {
			t.Errorf("executed order %s, want %s", got, orderID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background execution never started")
	}
}

func TestExecuteOrderConflictsWhileRunning(t *testing.T) {
	svc := &fakeOrders{exec: domain.SplitOrderExecution{
		OrderID: uuid.New(),
		Status:  domain.ExecExecuting,
	}}
	mux := newMux(nil, NewOrderHandler(svc, testLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/orders/"+uuid.NewString()+"/execute", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	svc := &fakeOrders{statusErr: domain.ErrOrderNotFound}
	mux := newMux(nil, NewOrderHandler(svc, testLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/orders/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelOrder(t *testing.T) {
	orderID := uuid.New()
	svc := &fakeOrders{}
	mux := newMux(nil, NewOrderHandler(svc, testLogger()))

	req := httptest.NewRequest(http.MethodDelete, "/api/orders/"+orderID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != orderID {
		t.Errorf("cancelled = %v, want [%s]", svc.cancelled, orderID)
	}
}
