package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/queue"
	"github.com/screentask/screentask/internal/store"
)

func TestHealthCheckBasicMode(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(store.NewMemory(), kv.NewMemoryStore(), queue.NewMemoryQueue())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.Checks != nil {
		t.Errorf("basic mode should carry no checks, got %v", resp.Checks)
	}
}

func TestHealthCheckExtendedMode(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(store.NewMemory(), kv.NewMemoryStore(), queue.NewMemoryQueue())
	req := httptest.NewRequest(http.MethodGet, "/healthz?mode=extended", nil)
	rec := httptest.NewRecorder()

	h.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	for _, name := range []string{"store", "kv", "queue"} {
		if resp.Checks[name] != "healthy" {
			t.Errorf("check %q = %q, want healthy", name, resp.Checks[name])
		}
	}
}

func TestHealthCheckExtendedModeUnhealthyQueue(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryQueue()
	q.Close()
	h := NewHealthChecker(store.NewMemory(), kv.NewMemoryStore(), q)
	req := httptest.NewRequest(http.MethodGet, "/healthz?mode=extended", nil)
	rec := httptest.NewRecorder()

	h.HealthCheck(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", resp.Status)
	}
}
