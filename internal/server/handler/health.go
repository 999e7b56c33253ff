package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness probes for the API server.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// HealthCheck reports that the service is up. Engine state is not probed;
// the ledgers are in-process and have no failure mode of their own.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "dexguard",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
