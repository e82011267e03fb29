package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/queue"
	"github.com/screentask/screentask/internal/store"
)

// HealthChecker handles health check requests.
type HealthChecker struct {
	store store.Store
	kv    kv.Store
	queue queue.JobQueue
}

// NewHealthChecker creates a health checker. Any dependency may be nil, in
// which case its check is skipped.
func NewHealthChecker(st store.Store, kvStore kv.Store, jobQueue queue.JobQueue) *HealthChecker {
	return &HealthChecker{store: st, kv: kvStore, queue: jobQueue}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles the /healthz endpoint. The default mode only confirms
// the process is serving; mode=extended probes the backing services.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if r.URL.Query().Get("mode") == "extended" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := make(map[string]string)
		if h.store != nil {
			if _, err := h.store.QuerySpaces(ctx, "healthcheck"); err != nil {
				response.Status = "unhealthy"
				checks["store"] = "unhealthy: " + err.Error()
			} else {
				checks["store"] = "healthy"
			}
		}
		if h.kv != nil {
			if _, _, err := h.kv.Get(ctx, "healthcheck"); err != nil {
				response.Status = "unhealthy"
				checks["kv"] = "unhealthy: " + err.Error()
			} else {
				checks["kv"] = "healthy"
			}
		}
		if h.queue != nil {
			if err := h.queue.HealthCheck(ctx); err != nil {
				response.Status = "unhealthy"
				checks["queue"] = "unhealthy: " + err.Error()
			} else {
				checks["queue"] = "healthy"
			}
		}
		response.Checks = checks
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
