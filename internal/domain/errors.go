package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by caches and stores on missing keys.
	ErrNotFound = errors.New("not found")

	ErrInvalidParameters   = errors.New("invalid parameters")
	ErrOrderNotFound       = errors.New("order not found")
	ErrSwapNotFound        = errors.New("swap not found")
	ErrExecutionInProgress = errors.New("execution already in progress")
	ErrResultExists        = errors.New("swap result already recorded")
	ErrToleranceExceeded   = errors.New("slippage tolerance exceeded")
)

// ToleranceExceededError reports a swap rejected because the adjusted
// predicted slippage exceeded either the configured maximum or the emergency
// stop threshold. It carries the exact values so callers can retry with a
// wider tolerance or a smaller size.
type ToleranceExceededError struct {
	PredictedBps  float64
	MaxAllowedBps float64
}

func (e *ToleranceExceededError) Error() string {
	return fmt.Sprintf("slippage tolerance exceeded: predicted %.2fbps, max allowed %.2fbps",
		e.PredictedBps, e.MaxAllowedBps)
}

// Is makes errors.Is(err, ErrToleranceExceeded) succeed for typed instances.
func (e *ToleranceExceededError) Is(target error) bool {
	return target == ErrToleranceExceeded
}
