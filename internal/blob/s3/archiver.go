package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

// exportPartSize is the multipart chunk size for JSONL exports.
const exportPartSize int64 = 8 * 1024 * 1024

// ReportArchiver serializes terminal split-order executions and protected
// swap results to JSON and uploads them to the blob store. The ledgers and
// the relational stores remain the live state; the archive is a flat audit
// trail for offline analysis.
type ReportArchiver struct {
	writer domain.BlobWriter
	orders domain.ExecutionStore
	swaps  domain.SwapResultStore
	prefix string
	logger *slog.Logger
}

// NewReportArchiver creates an archiver writing under the given key prefix.
// orders and swaps may be nil, in which case the corresponding export is
// skipped.
func NewReportArchiver(
	writer domain.BlobWriter,
	orders domain.ExecutionStore,
	swaps domain.SwapResultStore,
	prefix string,
	logger *slog.Logger,
) *ReportArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportArchiver{
		writer: writer,
		orders: orders,
		swaps:  swaps,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "archiver"),
	}
}

// ArchiveExecution uploads one terminal execution as a single JSON object at
// {prefix}/orders/YYYY-MM-DD/{order_id}.json, dated by the execution start.
// Non-terminal executions are skipped.
func (a *ReportArchiver) ArchiveExecution(ctx context.Context, exec domain.SplitOrderExecution) error {
	if !exec.Status.Terminal() {
		return nil
	}

	buf, err := json.Marshal(newExecutionRecord(exec))
	if err != nil {
		return fmt.Errorf("s3blob: marshal execution %s: %w", exec.OrderID, err)
	}

	path := a.key("orders", exec.StartedAt, exec.OrderID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive execution %s: %w", exec.OrderID, err)
	}

	a.logger.Debug("archived split-order execution", "order_id", exec.OrderID, "path", path)
	return nil
}

// ArchiveSwapResult uploads one protected-swap result as a single JSON
// object at {prefix}/swaps/YYYY-MM-DD/{swap_id}.json.
func (a *ReportArchiver) ArchiveSwapResult(ctx context.Context, res domain.ProtectedSwapResult) error {
	buf, err := json.Marshal(newSwapRecord(res))
	if err != nil {
		return fmt.Errorf("s3blob: marshal swap result %s: %w", res.SwapID, err)
	}

	path := a.key("swaps", res.Timestamp, res.SwapID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive swap result %s: %w", res.SwapID, err)
	}

	a.logger.Debug("archived swap result", "swap_id", res.SwapID, "path", path)
	return nil
}

// ExportRecent uploads JSONL snapshots of the most recent persisted
// executions and swap results at {prefix}/exports/{kind}/YYYY-MM-DD.jsonl,
// dated by the export time. Re-running on the same day overwrites the day's
// snapshot with a fresher one.
func (a *ReportArchiver) ExportRecent(ctx context.Context, limit int) error {
	now := time.Now().UTC()

	if a.orders != nil {
		execs, err := a.orders.ListRecentExecutions(ctx, limit)
		if err != nil {
			return fmt.Errorf("s3blob: export executions query: %w", err)
		}
		records := make([]executionRecord, 0, len(execs))
		for _, exec := range execs {
			records = append(records, newExecutionRecord(exec))
		}
		if err := a.putJSONL(ctx, a.exportKey("orders", now), records); err != nil {
			return fmt.Errorf("s3blob: export executions: %w", err)
		}
	}

	if a.swaps != nil {
		results, err := a.swaps.ListRecentResults(ctx, limit)
		if err != nil {
			return fmt.Errorf("s3blob: export swap results query: %w", err)
		}
		records := make([]swapRecord, 0, len(results))
		for _, res := range results {
			records = append(records, newSwapRecord(res))
		}
		if err := a.putJSONL(ctx, a.exportKey("swaps", now), records); err != nil {
			return fmt.Errorf("s3blob: export swap results: %w", err)
		}
	}

	return nil
}

// Run exports snapshots on a fixed interval until the context is cancelled.
// Export failures are logged and retried on the next tick.
func (a *ReportArchiver) Run(ctx context.Context, interval time.Duration, limit int) error {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ExportRecent(ctx, limit); err != nil {
				a.logger.Error("periodic export failed", "error", err)
			}
		}
	}
}

func (a *ReportArchiver) key(kind string, at time.Time, id uuid.UUID) string {
	return a.join(fmt.Sprintf("%s/%s/%s.json", kind, at.UTC().Format("2006-01-02"), id))
}

func (a *ReportArchiver) exportKey(kind string, at time.Time) string {
	return a.join(fmt.Sprintf("exports/%s/%s.jsonl", kind, at.Format("2006-01-02")))
}

func (a *ReportArchiver) join(path string) string {
	if a.prefix == "" {
		return path
	}
	return a.prefix + "/" + path
}

// putJSONL serializes records as newline-delimited JSON and uploads the
// result via multipart so day-sized exports stay within request limits.
func (a *ReportArchiver) putJSONL(ctx context.Context, path string, records any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	switch recs := records.(type) {
	case []executionRecord:
		for i, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("jsonl encode record %d: %w", i, err)
			}
		}
	case []swapRecord:
		for i, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("jsonl encode record %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("jsonl encode: unsupported record slice %T", records)
	}

	return a.writer.PutMultipart(ctx, path, &buf, exportPartSize)
}

// ---------------------------------------------------------------------------
// report shapes
// ---------------------------------------------------------------------------

type chunkRecord struct {
	ID             uuid.UUID `json:"id"`
	FromToken      string    `json:"from_token"`
	ToToken        string    `json:"to_token"`
	Amount         float64   `json:"amount"`
	ReadyAt        time.Time `json:"ready_at"`
	Venues         []string  `json:"venues"`
	MaxSlippageBps float64   `json:"max_slippage_bps"`
	Priority       int       `json:"priority"`
	State          string    `json:"state"`
	ActualOutput   float64   `json:"actual_output,omitempty"`
	SlippageBps    float64   `json:"slippage_bps,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type executionRecord struct {
	OrderID            uuid.UUID     `json:"order_id"`
	Status             string        `json:"status"`
	StatusError        string        `json:"status_error,omitempty"`
	TotalExecuted      float64       `json:"total_executed"`
	TotalReceived      float64       `json:"total_received"`
	AverageSlippageBps float64       `json:"average_slippage_bps"`
	StartedAt          time.Time     `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	Chunks             []chunkRecord `json:"chunks"`
}

func newExecutionRecord(exec domain.SplitOrderExecution) executionRecord {
	chunks := make([]chunkRecord, 0, len(exec.Chunks))
	for _, c := range exec.Chunks {
		chunks = append(chunks, chunkRecord{
			ID:             c.ID,
			FromToken:      c.FromToken,
			ToToken:        c.ToToken,
			Amount:         c.Amount,
			ReadyAt:        c.ReadyAt,
			Venues:         c.Venues,
			MaxSlippageBps: c.MaxSlippageBps,
			Priority:       c.Priority,
			State:          string(c.Status.State),
			ActualOutput:   c.Status.ActualOutput,
			SlippageBps:    c.Status.SlippageBps,
			Error:          c.Status.Error,
		})
	}
	return executionRecord{
		OrderID:            exec.OrderID,
		Status:             string(exec.Status),
		StatusError:        exec.StatusError,
		TotalExecuted:      exec.TotalExecuted,
		TotalReceived:      exec.TotalReceived,
		AverageSlippageBps: exec.AverageSlippageBps,
		StartedAt:          exec.StartedAt,
		CompletedAt:        exec.CompletedAt,
		Chunks:             chunks,
	}
}

type swapExecutionRecord struct {
	AmountOut float64 `json:"amount_out"`
	GasUsed   uint64  `json:"gas_used"`
	TxHash    string  `json:"tx_hash"`
}

type swapRecord struct {
	SwapID                  uuid.UUID                 `json:"swap_id"`
	FromToken               string                    `json:"from_token"`
	ToToken                 string                    `json:"to_token"`
	Amount                  float64                   `json:"amount"`
	OriginalPrediction      domain.SlippagePrediction `json:"original_prediction"`
	AdjustedPrediction      domain.SlippagePrediction `json:"adjusted_prediction"`
	Measures                []domain.MeasureRecord    `json:"measures"`
	Execution               *swapExecutionRecord      `json:"execution,omitempty"`
	ActualSlippageBps       *float64                  `json:"actual_slippage_bps,omitempty"`
	ProtectionEffectiveness *float64                  `json:"protection_effectiveness,omitempty"`
	Timestamp               time.Time                 `json:"timestamp"`
}

func newSwapRecord(res domain.ProtectedSwapResult) swapRecord {
	rec := swapRecord{
		SwapID:                  res.SwapID,
		FromToken:               res.FromToken,
		ToToken:                 res.ToToken,
		Amount:                  res.Amount,
		OriginalPrediction:      res.OriginalPrediction,
		AdjustedPrediction:      res.AdjustedPrediction,
		Measures:                domain.EncodeMeasures(res.MeasuresApplied),
		ActualSlippageBps:       res.ActualSlippageBps,
		ProtectionEffectiveness: res.ProtectionEffectiveness,
		Timestamp:               res.Timestamp,
	}
	if res.Execution != nil {
		rec.Execution = &swapExecutionRecord{
			AmountOut: res.Execution.AmountOut,
			GasUsed:   res.Execution.GasUsed,
			TxHash:    res.Execution.TxHash.Hex(),
		}
	}
	return rec
}
