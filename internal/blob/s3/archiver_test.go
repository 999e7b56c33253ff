package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

type fakeWriter struct {
	puts map[string][]byte
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{puts: make(map[string][]byte)}
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts[path] = buf
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts[path] = buf
	return nil
}

type fakeExecutionStore struct {
	execs []domain.SplitOrderExecution
}

func (f *fakeExecutionStore) SaveExecution(context.Context, domain.SplitOrderExecution) error {
	return nil
}

func (f *fakeExecutionStore) ListRecentExecutions(context.Context, int) ([]domain.SplitOrderExecution, error) {
	return f.execs, nil
}

type fakeSwapResultStore struct {
	results []domain.ProtectedSwapResult
}

func (f *fakeSwapResultStore) SaveResult(context.Context, domain.ProtectedSwapResult) error {
	return nil
}

func (f *fakeSwapResultStore) ListRecentResults(context.Context, int) ([]domain.ProtectedSwapResult, error) {
	return f.results, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleExecution(status domain.ExecStatus) domain.SplitOrderExecution {
	started := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	return domain.SplitOrderExecution{
		OrderID:   uuid.New(),
		StartedAt: started,
		Status:    status,
		Chunks: []domain.OrderChunk{
			{
				ID:        uuid.New(),
				FromToken: "ETH",
				ToToken:   "USDC",
				Amount:    250,
				ReadyAt:   started,
				Venues:    []string{"uniswap"},
				Priority:  1,
				Status:    domain.CompletedChunk(248, 80),
			},
		},
		TotalExecuted:      250,
		TotalReceived:      248,
		AverageSlippageBps: 80,
	}
}

func TestArchiveExecutionUploadsTerminalOrder(t *testing.T) {
	writer := newFakeWriter()
	archiver := NewReportArchiver(writer, nil, nil, "reports", testLogger())

	exec := sampleExecution(domain.ExecCompleted)
	if err := archiver.ArchiveExecution(context.Background(), exec); err != nil {
		t.Fatalf("ArchiveExecution: %v", err)
	}

	wantPath := "reports/orders/2025-03-14/" + exec.OrderID.String() + ".json"
	body, ok := writer.puts[wantPath]
	if !ok {
		t.Fatalf("expected upload at %s, got keys %v", wantPath, keys(writer.puts))
	}

	var rec executionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if rec.OrderID != exec.OrderID {
		t.Errorf("order_id = %s, want %s", rec.OrderID, exec.OrderID)
	}
	if rec.Status != string(domain.ExecCompleted) {
		t.Errorf("status = %q, want %q", rec.Status, domain.ExecCompleted)
	}
	if len(rec.Chunks) != 1 || rec.Chunks[0].ActualOutput != 248 {
		t.Errorf("unexpected chunks in report: %+v", rec.Chunks)
	}
}

func TestArchiveExecutionSkipsNonTerminal(t *testing.T) {
	writer := newFakeWriter()
	archiver := NewReportArchiver(writer, nil, nil, "reports", testLogger())

	if err := archiver.ArchiveExecution(context.Background(), sampleExecution(domain.ExecExecuting)); err != nil {
		t.Fatalf("ArchiveExecution: %v", err)
	}
	if len(writer.puts) != 0 {
		t.Errorf("expected no uploads for a running order, got %v", keys(writer.puts))
	}
}

func TestArchiveSwapResultEncodesMeasures(t *testing.T) {
	writer := newFakeWriter()
	archiver := NewReportArchiver(writer, nil, nil, "", testLogger())

	actual := 40.0
	res := domain.ProtectedSwapResult{
		SwapID:    uuid.New(),
		FromToken: "ETH",
		ToToken:   "USDC",
		Amount:    1000,
		OriginalPrediction: domain.SlippagePrediction{
			PredictedSlippageBps: 50,
			ConfidenceScore:      0.8,
		},
		AdjustedPrediction: domain.SlippagePrediction{
			PredictedSlippageBps: 42.5,
			ConfidenceScore:      0.8,
		},
		MeasuresApplied: []domain.ProtectionMeasure{
			domain.RouteOptimization{OriginalRoute: "uniswap", OptimizedRoute: "curve"},
		},
		Execution:         &domain.SwapResult{AmountOut: 996, GasUsed: 150000},
		ActualSlippageBps: &actual,
		Timestamp:         time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	if err := archiver.ArchiveSwapResult(context.Background(), res); err != nil {
		t.Fatalf("ArchiveSwapResult: %v", err)
	}

	wantPath := "swaps/2025-03-14/" + res.SwapID.String() + ".json"
	body, ok := writer.puts[wantPath]
	if !ok {
		t.Fatalf("expected upload at %s, got keys %v", wantPath, keys(writer.puts))
	}

	var rec swapRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if len(rec.Measures) != 1 || rec.Measures[0].Kind != "route_optimization" {
		t.Errorf("unexpected measures in report: %+v", rec.Measures)
	}
	if rec.Measures[0].OptimizedRoute != "curve" {
		t.Errorf("optimized_route = %q, want %q", rec.Measures[0].OptimizedRoute, "curve")
	}
	if rec.Execution == nil || rec.Execution.AmountOut != 996 {
		t.Errorf("unexpected execution in report: %+v", rec.Execution)
	}
	if rec.ActualSlippageBps == nil || *rec.ActualSlippageBps != 40 {
		t.Errorf("unexpected actual slippage in report: %v", rec.ActualSlippageBps)
	}
}

func TestExportRecentWritesJSONLSnapshots(t *testing.T) {
	writer := newFakeWriter()
	orders := &fakeExecutionStore{execs: []domain.SplitOrderExecution{
		sampleExecution(domain.ExecCompleted),
		sampleExecution(domain.ExecFailed),
	}}
	swaps := &fakeSwapResultStore{results: []domain.ProtectedSwapResult{
		{SwapID: uuid.New(), FromToken: "ETH", ToToken: "USDC", Amount: 10, Timestamp: time.Now()},
	}}
	archiver := NewReportArchiver(writer, orders, swaps, "reports", testLogger())

	if err := archiver.ExportRecent(context.Background(), 100); err != nil {
		t.Fatalf("ExportRecent: %v", err)
	}
	if len(writer.puts) != 2 {
		t.Fatalf("expected 2 exports, got keys %v", keys(writer.puts))
	}

	for path, body := range writer.puts {
		if !strings.HasPrefix(path, "reports/exports/") || !strings.HasSuffix(path, ".jsonl") {
			t.Errorf("unexpected export path %s", path)
		}
		wantLines := 1
		if strings.Contains(path, "/orders/") {
			wantLines = 2
		}
		lines := strings.Count(strings.TrimRight(string(body), "\n"), "\n") + 1
		if lines != wantLines {
			t.Errorf("export %s has %d lines, want %d", path, lines, wantLines)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
