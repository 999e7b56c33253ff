// Package ledger holds the in-memory execution state shared by the order
// splitter and the slippage protection engine. Each entity type lives in
// its own reader/writer-locked map; callers only ever receive clones, never
// live references.
package ledger

import (
	"sync"

	"github.com/google/uuid"

	"dexguard/internal/domain"
)

// OrderLedger owns split-order executions keyed by order id. It also hands
// out the per-order execution claim that enforces at most one live executor
// per order.
type OrderLedger struct {
	mu        sync.RWMutex
	orders    map[uuid.UUID]domain.SplitOrderExecution
	executing map[uuid.UUID]bool
}

// NewOrderLedger creates an empty order ledger.
func NewOrderLedger() *OrderLedger {
	return &OrderLedger{
		orders:    make(map[uuid.UUID]domain.SplitOrderExecution),
		executing: make(map[uuid.UUID]bool),
	}
}

// Put stores a snapshot of the execution under its order id.
func (l *OrderLedger) Put(exec domain.SplitOrderExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[exec.OrderID] = exec.Clone()
}

// Get returns a snapshot copy of the execution for the given order id.
func (l *OrderLedger) Get(orderID uuid.UUID) (domain.SplitOrderExecution, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	exec, ok := l.orders[orderID]
	if !ok {
		return domain.SplitOrderExecution{}, domain.ErrOrderNotFound
	}
	return exec.Clone(), nil
}

// Update applies fn to the stored execution under the write lock. fn
// receives the live record; mutations are visible to subsequent reads once
// Update returns.
func (l *OrderLedger) Update(orderID uuid.UUID, fn func(*domain.SplitOrderExecution)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	exec, ok := l.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	fn(&exec)
	l.orders[orderID] = exec
	return nil
}

// Claim marks the order as having a live executor. It fails with
// ErrExecutionInProgress when another executor already holds the claim.
func (l *OrderLedger) Claim(orderID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[orderID]; !ok {
		return domain.ErrOrderNotFound
	}
	if l.executing[orderID] {
		return domain.ErrExecutionInProgress
	}
	l.executing[orderID] = true
	return nil
}

// Release drops the execution claim for the order.
func (l *OrderLedger) Release(orderID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.executing, orderID)
}

// Len returns the number of tracked orders.
func (l *OrderLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// ResultLedger owns protected-swap results keyed by swap id. Results are
// write-once: a second Put for the same swap id is rejected.
type ResultLedger struct {
	mu      sync.RWMutex
	results map[uuid.UUID]domain.ProtectedSwapResult
}

// NewResultLedger creates an empty result ledger.
func NewResultLedger() *ResultLedger {
	return &ResultLedger{results: make(map[uuid.UUID]domain.ProtectedSwapResult)}
}

// Put stores the result. It returns ErrResultExists if the swap id is
// already present; stored results are never mutated.
func (l *ResultLedger) Put(res domain.ProtectedSwapResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.results[res.SwapID]; ok {
		return domain.ErrResultExists
	}
	l.results[res.SwapID] = res.Clone()
	return nil
}

// Get returns a snapshot copy of the result for the given swap id.
func (l *ResultLedger) Get(swapID uuid.UUID) (domain.ProtectedSwapResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.results[swapID]
	if !ok {
		return domain.ProtectedSwapResult{}, domain.ErrSwapNotFound
	}
	return res.Clone(), nil
}

// Snapshot returns clones of every stored result, in no particular order.
func (l *ResultLedger) Snapshot() []domain.ProtectedSwapResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ProtectedSwapResult, 0, len(l.results))
	for _, res := range l.results {
		out = append(out, res.Clone())
	}
	return out
}

// Len returns the number of stored results.
func (l *ResultLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}
