package protection

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
	"dexguard/internal/ledger"
)

type fakeRouter struct {
	mu         sync.Mutex
	quoteCalls int
	execCalls  int
	quote      domain.Quote
	quoteErr   error
	execOut    float64
	execErr    error
}

func (f *fakeRouter) GetQuote(_ context.Context, _, _ string, _ float64) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if f.quoteErr != nil {
		return domain.Quote{}, f.quoteErr
	}
	return f.quote, nil
}

func (f *fakeRouter) ExecuteSwap(_ context.Context, _ domain.SwapRequest) (domain.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	if f.execErr != nil {
		return domain.SwapResult{}, f.execErr
	}
	return domain.SwapResult{AmountOut: f.execOut, GasUsed: 150000}, nil
}

func (f *fakeRouter) calls() (quotes, execs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls, f.execCalls
}

type fakePredictor struct {
	prediction domain.SlippagePrediction
	err        error

	mu       sync.Mutex
	recorded []domain.SlippageDataPoint
}

func (f *fakePredictor) PredictSlippage(_ context.Context, _, _ string, _ float64) (domain.SlippagePrediction, error) {
	if f.err != nil {
		return domain.SlippagePrediction{}, f.err
	}
	return f.prediction, nil
}

func (f *fakePredictor) RecordSlippageData(_ context.Context, point domain.SlippageDataPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, point)
	return nil
}

func (f *fakePredictor) feedbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestEngine(router *fakeRouter, predictor *fakePredictor) (*Engine, *ledger.ResultLedger) {
	results := ledger.NewResultLedger()
	logger := slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	e := New(router, predictor, results, Options{CallTimeout: time.Second}, logger)
	return e, results
}

func baseConfig() domain.SlippageProtectionConfig {
	return domain.SlippageProtectionConfig{
		MaxSlippageBps:            100,
		EmergencyStopThresholdBps: 500,
	}
}

func swapParams(cfg domain.SlippageProtectionConfig) domain.ProtectedSwapParams {
	return domain.ProtectedSwapParams{
		FromToken: "WETH",
		ToToken:   "USDC",
		Amount:    1000,
		Config:    cfg,
		Priority:  domain.PriorityProtection,
	}
}

func prediction(bps, confidence float64) domain.SlippagePrediction {
	return domain.SlippagePrediction{
		PredictedSlippageBps:    bps,
		ConfidenceScore:         confidence,
		RecommendedMaxTradeSize: 5000,
		PredictedAt:             time.Now().UTC(),
	}
}

func TestExecuteProtectedSwap_EmergencyStopNeverReachesRouter(t *testing.T) {
	router := &fakeRouter{}
	e, results := newTestEngine(router, &fakePredictor{prediction: prediction(600, 0.8)})

	result, err := e.ExecuteProtectedSwap(context.Background(), swapParams(baseConfig()))

	var tolErr *domain.ToleranceExceededError
	if !errors.As(err, &tolErr) {
		t.Fatalf("expected ToleranceExceededError, got %v", err)
	}
	if tolErr.PredictedBps != 600 || tolErr.MaxAllowedBps != 500 {
		t.Errorf("error values = {%.1f, %.1f}, want {600, 500}", tolErr.PredictedBps, tolErr.MaxAllowedBps)
	}
	if !errors.Is(err, domain.ErrToleranceExceeded) {
		t.Error("error does not unwrap to ErrToleranceExceeded")
	}

	quotes, execs := router.calls()
	if quotes != 0 || execs != 0 {
		t.Errorf("router calls = %d quotes, %d execs; want zero", quotes, execs)
	}

	stored, getErr := results.Get(result.SwapID)
	if getErr != nil {
		t.Fatalf("aborted swap not recorded: %v", getErr)
	}
	if stored.Execution != nil {
		t.Error("aborted swap carries an execution")
	}
	last := stored.MeasuresApplied[len(stored.MeasuresApplied)-1]
	if _, ok := last.(domain.EmergencyStop); !ok {
		t.Errorf("last measure = %T, want EmergencyStop", last)
	}
}

func TestExecuteProtectedSwap_RouteCreditAllowsExecution(t *testing.T) {
	router := &fakeRouter{
		quote: domain.Quote{
			AmountOut: 1000,
			Routes: []domain.RouteQuote{
				{Venue: "uniswap", AmountOut: 995, GasUsed: 200000},
				{Venue: "curve", AmountOut: 998, GasUsed: 150000},
			},
		},
		execOut: 996,
	}
	cfg := baseConfig()
	cfg.RouteOptimization = true
	e, _ := newTestEngine(router, &fakePredictor{prediction: prediction(50, 0.8)})

	result, err := e.ExecuteProtectedSwap(context.Background(), swapParams(cfg))
	if err != nil {
		t.Fatalf("ExecuteProtectedSwap failed: %v", err)
	}
	if got := result.AdjustedPrediction.PredictedSlippageBps; math.Abs(got-42.5) > 1e-9 {
		t.Errorf("adjusted prediction = %f, want 42.5", got)
	}
	if result.OriginalPrediction.PredictedSlippageBps != 50 {
		t.Errorf("original prediction mutated: %f", result.OriginalPrediction.PredictedSlippageBps)
	}
	if result.Execution == nil {
		t.Fatal("execution missing")
	}

	var route domain.RouteOptimization
	found := false
	for _, m := range result.MeasuresApplied {
		if r, ok := m.(domain.RouteOptimization); ok {
			route = r
			found = true
		}
	}
	if !found {
		t.Fatal("route optimization measure missing")
	}
	if route.OptimizedRoute != "curve" || route.OriginalRoute != "uniswap" {
		t.Errorf("route measure = %+v", route)
	}
}

func TestExecuteProtectedSwap_ValidationHoldsConfiguredMax(t *testing.T) {
	router := &fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 990}
	pred := prediction(110, 0.5) // low confidence recomputes 100 -> 120

	cfg := baseConfig()
	cfg.PreTradeValidation = true
	cfg.DynamicAdjustment = true

	// The recomputed tolerance is recorded, but validation still rejects
	// anything over the configured max.
	e, _ := newTestEngine(router, &fakePredictor{prediction: pred})
	result, err := e.ExecuteProtectedSwap(context.Background(), swapParams(cfg))
	var tolErr *domain.ToleranceExceededError
	if !errors.As(err, &tolErr) {
		t.Fatalf("expected validation rejection, got %v", err)
	}
	if tolErr.PredictedBps != 110 || tolErr.MaxAllowedBps != 100 {
		t.Errorf("error values = {%.1f, %.1f}, want {110, 100}", tolErr.PredictedBps, tolErr.MaxAllowedBps)
	}
	if _, execs := router.calls(); execs != 0 {
		t.Errorf("router exec calls = %d, want 0", execs)
	}

	adj, ok := result.MeasuresApplied[0].(domain.DynamicSlippageAdjustment)
	if !ok {
		t.Fatalf("first measure = %T, want DynamicSlippageAdjustment", result.MeasuresApplied[0])
	}
	if adj.OldToleranceBps != 100 || math.Abs(adj.NewToleranceBps-120) > 1e-9 {
		t.Errorf("adjustment = %+v, want 100 -> 120", adj)
	}

	// A prediction within the max passes, with the measure still recorded.
	e2, _ := newTestEngine(&fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 990}, &fakePredictor{prediction: prediction(90, 0.5)})
	result2, err := e2.ExecuteProtectedSwap(context.Background(), swapParams(cfg))
	if err != nil {
		t.Fatalf("ExecuteProtectedSwap failed: %v", err)
	}
	if _, ok := result2.MeasuresApplied[0].(domain.DynamicSlippageAdjustment); !ok {
		t.Errorf("first measure = %T, want DynamicSlippageAdjustment", result2.MeasuresApplied[0])
	}
}

func TestDynamicTolerance(t *testing.T) {
	cases := []struct {
		name       string
		base       float64
		confidence float64
		volatility float64
		want       float64
	}{
		{"low confidence widens", 100, 0.5, 0, 120},
		{"high confidence tightens", 100, 0.95, 0, 90},
		{"mid confidence unchanged", 100, 0.8, 0, 100},
		{"volatility term", 100, 0.8, 20, 110},
		{"clamped low", 10, 0.95, 0, 10},
		{"clamped high", 900, 0.5, 0, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := domain.SlippagePrediction{ConfidenceScore: tc.confidence, VolatilityAdjustment: tc.volatility}
			if got := dynamicTolerance(tc.base, p); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("dynamicTolerance = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestExecuteProtectedSwap_SplitAdvice(t *testing.T) {
	router := &fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 995}
	pred := prediction(50, 0.8)
	pred.RecommendedMaxTradeSize = 300 // amount 1000 -> advise 4 chunks of 250
	e, _ := newTestEngine(router, &fakePredictor{prediction: pred})

	result, err := e.ExecuteProtectedSwap(context.Background(), swapParams(baseConfig()))
	if err != nil {
		t.Fatalf("ExecuteProtectedSwap failed: %v", err)
	}

	var advice domain.OrderSplittingAdvice
	found := false
	for _, m := range result.MeasuresApplied {
		if a, ok := m.(domain.OrderSplittingAdvice); ok {
			advice = a
			found = true
		}
	}
	if !found {
		t.Fatal("order splitting advice missing")
	}
	if advice.Chunks != 4 || advice.ChunkSize != 250 {
		t.Errorf("advice = %+v, want 4 chunks of 250", advice)
	}
	if got := result.AdjustedPrediction.PredictedSlippageBps; math.Abs(got-35) > 1e-9 {
		t.Errorf("adjusted prediction = %f, want 35 (0.70 credit)", got)
	}
}

func TestExecuteProtectedSwap_AnalysisBounds(t *testing.T) {
	// Execution delivered more than the reference quote: realized slippage
	// clamps to zero, never negative.
	router := &fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 1010}
	e, _ := newTestEngine(router, &fakePredictor{prediction: prediction(50, 0.8)})

	result, err := e.ExecuteProtectedSwap(context.Background(), swapParams(baseConfig()))
	if err != nil {
		t.Fatalf("ExecuteProtectedSwap failed: %v", err)
	}
	if result.ActualSlippageBps == nil {
		t.Fatal("actual slippage missing")
	}
	if *result.ActualSlippageBps != 0 {
		t.Errorf("actual slippage = %f, want 0", *result.ActualSlippageBps)
	}
	if result.ProtectionEffectiveness == nil {
		t.Fatal("effectiveness missing")
	}
	if eff := *result.ProtectionEffectiveness; eff < 0 || eff > 1 {
		t.Errorf("effectiveness = %f, want within [0, 1]", eff)
	}
}

func TestProtectionEffectiveness(t *testing.T) {
	cases := []struct {
		name                       string
		original, adjusted, actual float64
		want                       float64
	}{
		{"adjustment removed most error", 50, 42.5, 40, 0.75},
		{"perfect original counts as effective", 40, 35, 40, 1},
		{"adjustment made it worse", 50, 30, 55, 0},
		{"fully corrected", 50, 40, 40, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := protectionEffectiveness(tc.original, tc.adjusted, tc.actual); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("effectiveness = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestExecuteProtectedSwap_FeedbackGatedByPostTradeAnalysis(t *testing.T) {
	cfg := baseConfig()
	cfg.PostTradeAnalysis = true
	predictor := &fakePredictor{prediction: prediction(50, 0.8)}
	e, _ := newTestEngine(&fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 995}, predictor)

	if _, err := e.ExecuteProtectedSwap(context.Background(), swapParams(cfg)); err != nil {
		t.Fatalf("ExecuteProtectedSwap failed: %v", err)
	}
	if predictor.feedbackCount() != 1 {
		t.Errorf("feedback points = %d, want 1", predictor.feedbackCount())
	}

	cfg.PostTradeAnalysis = false
	predictor2 := &fakePredictor{prediction: prediction(50, 0.8)}
	e2, _ := newTestEngine(&fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 995}, predictor2)
	if _, err := e2.ExecuteProtectedSwap(context.Background(), swapParams(cfg)); err != nil {
		t.Fatalf("ExecuteProtectedSwap failed: %v", err)
	}
	if predictor2.feedbackCount() != 0 {
		t.Errorf("feedback points = %d, want 0 when disabled", predictor2.feedbackCount())
	}
}

func TestExecuteProtectedSwap_ExecutionFailureRecorded(t *testing.T) {
	router := &fakeRouter{quote: domain.Quote{AmountOut: 1000}, execErr: errors.New("router reverted")}
	e, results := newTestEngine(router, &fakePredictor{prediction: prediction(50, 0.8)})

	result, err := e.ExecuteProtectedSwap(context.Background(), swapParams(baseConfig()))
	if err == nil {
		t.Fatal("expected execution error")
	}
	stored, getErr := results.Get(result.SwapID)
	if getErr != nil {
		t.Fatalf("failed swap not recorded: %v", getErr)
	}
	if stored.Execution != nil {
		t.Error("failed swap carries an execution")
	}
}

func TestExecuteProtectedSwap_InvalidParams(t *testing.T) {
	e, _ := newTestEngine(&fakeRouter{}, &fakePredictor{prediction: prediction(50, 0.8)})

	params := swapParams(baseConfig())
	params.Amount = 0
	if _, err := e.ExecuteProtectedSwap(context.Background(), params); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Errorf("zero amount: expected ErrInvalidParameters, got %v", err)
	}

	params = swapParams(baseConfig())
	params.FromToken = ""
	if _, err := e.ExecuteProtectedSwap(context.Background(), params); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Errorf("empty token: expected ErrInvalidParameters, got %v", err)
	}
}

func TestExecuteProtectedSwap_UserConfigOverride(t *testing.T) {
	// A 600 bps prediction passes only with the user's wider threshold.
	router := &fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 940}
	e, _ := newTestEngine(router, &fakePredictor{prediction: prediction(600, 0.8)})
	e.SetUserConfig("trader-1", domain.SlippageProtectionConfig{
		MaxSlippageBps:            800,
		EmergencyStopThresholdBps: 900,
	})

	params := domain.ProtectedSwapParams{
		FromToken: "WETH",
		ToToken:   "USDC",
		Amount:    1000,
		UserID:    "trader-1",
	}
	if _, err := e.ExecuteProtectedSwap(context.Background(), params); err != nil {
		t.Fatalf("ExecuteProtectedSwap with override failed: %v", err)
	}

	// Anonymous callers fall back to the defaults and get stopped.
	params.UserID = ""
	if _, err := e.ExecuteProtectedSwap(context.Background(), params); !errors.Is(err, domain.ErrToleranceExceeded) {
		t.Errorf("expected emergency stop under defaults, got %v", err)
	}
}

func TestAnalyzeSlippagePerformance(t *testing.T) {
	router := &fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 990}
	pred := prediction(50, 0.4) // low confidence triggers a note
	e, _ := newTestEngine(router, &fakePredictor{prediction: pred})

	result, err := e.ExecuteProtectedSwap(context.Background(), swapParams(baseConfig()))
	if err != nil {
		t.Fatalf("ExecuteProtectedSwap failed: %v", err)
	}

	analysis, err := e.AnalyzeSlippagePerformance(result.SwapID)
	if err != nil {
		t.Fatalf("AnalyzeSlippagePerformance failed: %v", err)
	}
	if analysis.TradeID != result.SwapID {
		t.Errorf("trade id = %s, want %s", analysis.TradeID, result.SwapID)
	}
	// predicted 50, actual 100: accuracy = 1 - 50/50 = 0.
	if analysis.ActualSlippageBps != 100 {
		t.Errorf("actual = %f, want 100", analysis.ActualSlippageBps)
	}
	if analysis.PredictionAccuracy != 0 {
		t.Errorf("accuracy = %f, want 0", analysis.PredictionAccuracy)
	}
	if analysis.PredictionAccuracy < 0 || analysis.PredictionAccuracy > 1 {
		t.Errorf("accuracy out of bounds: %f", analysis.PredictionAccuracy)
	}
	wantNotes := map[string]bool{
		"actual slippage ran more than 1.5x the prediction": false,
		"prediction confidence was low":                     false,
	}
	for _, n := range analysis.Notes {
		if _, ok := wantNotes[n]; ok {
			wantNotes[n] = true
		}
	}
	for note, seen := range wantNotes {
		if !seen {
			t.Errorf("missing note %q in %v", note, analysis.Notes)
		}
	}
}

func TestAnalyzeSlippagePerformance_Unknown(t *testing.T) {
	e, _ := newTestEngine(&fakeRouter{}, &fakePredictor{})
	if _, err := e.AnalyzeSlippagePerformance(uuid.New()); !errors.Is(err, domain.ErrSwapNotFound) {
		t.Errorf("expected ErrSwapNotFound, got %v", err)
	}
}

func TestGetProtectionStatistics(t *testing.T) {
	router := &fakeRouter{quote: domain.Quote{AmountOut: 1000}, execOut: 990}
	predictor := &fakePredictor{prediction: prediction(50, 0.8)}
	e, _ := newTestEngine(router, predictor)

	if got := e.GetProtectionStatistics(); got.TotalTrades != 0 {
		t.Errorf("empty stats = %+v", got)
	}

	for i := 0; i < 3; i++ {
		if _, err := e.ExecuteProtectedSwap(context.Background(), swapParams(baseConfig())); err != nil {
			t.Fatalf("swap %d failed: %v", i, err)
		}
	}
	// One emergency stop joins the history as an unsuccessful trade.
	predictor.prediction = prediction(600, 0.8)
	if _, err := e.ExecuteProtectedSwap(context.Background(), swapParams(baseConfig())); err == nil {
		t.Fatal("expected emergency stop")
	}

	stats := e.GetProtectionStatistics()
	if stats.TotalTrades != 4 {
		t.Errorf("total = %d, want 4", stats.TotalTrades)
	}
	if stats.SuccessfulTrades != 3 {
		t.Errorf("successful = %d, want 3", stats.SuccessfulTrades)
	}
	if math.Abs(stats.SuccessRate-0.75) > 1e-9 {
		t.Errorf("success rate = %f, want 0.75", stats.SuccessRate)
	}
	if stats.AvgActualSlippageBps != 100 {
		t.Errorf("avg slippage = %f, want 100", stats.AvgActualSlippageBps)
	}
}
