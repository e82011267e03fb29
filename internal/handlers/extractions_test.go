package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/screentask/screentask/internal/extractions"
	"github.com/screentask/screentask/internal/queue"
)

func newExtractionRouter(env *testEnv) (*mux.Router, *extractions.Registry, *queue.MemoryQueue) {
	registry := extractions.New(env.kv)
	q := queue.NewMemoryQueue()
	h := NewExtractionHandler(env.manager, registry, q, nil)
	r := mux.NewRouter()
	r.HandleFunc("/extractions", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/extractions/{id}", h.Get).Methods(http.MethodGet)
	return r, registry, q
}

func testImage() string {
	return base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
}

func TestCreateExtractionEnqueuesJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router, _, q := newExtractionRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/extractions", CreateExtractionRequest{
		ImageBase64:  testImage(),
		MediaType:    "image/png",
		CustomPrompt: "focus on the todo column",
		SpaceID:      "space-1",
	}))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var view ExtractionView
	decodeData(t, rec, &view)
	if view.ID == "" {
		t.Fatal("no extraction id returned")
	}
	if view.Status != "pending" {
		t.Errorf("status = %q, want pending", view.Status)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}

	// The pending record is pollable right away.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/extractions/"+view.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("poll status = %d", rec.Code)
	}
	var polled ExtractionView
	decodeData(t, rec, &polled)
	if polled.Status != "pending" {
		t.Errorf("polled status = %q, want pending", polled.Status)
	}
}

func TestCreateExtractionValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router, _, _ := newExtractionRouter(env)

	tests := []struct {
		name string
		req  CreateExtractionRequest
		want int
	}{
		{
			name: "missing image",
			req:  CreateExtractionRequest{MediaType: "image/png"},
			want: http.StatusBadRequest,
		},
		{
			name: "bad media type",
			req:  CreateExtractionRequest{ImageBase64: testImage(), MediaType: "application/pdf"},
			want: http.StatusBadRequest,
		},
		{
			name: "invalid base64",
			req:  CreateExtractionRequest{ImageBase64: "!!not-base64!!", MediaType: "image/png"},
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(http.MethodPost, "/extractions", tt.req))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCreateExtractionClosedQueueMarksFailed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router, registry, q := newExtractionRouter(env)
	_ = q.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/extractions", CreateExtractionRequest{
		ImageBase64: testImage(),
		MediaType:   "image/png",
		SpaceID:     "space-1",
	}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	_ = registry // the failed record is user-scoped; id is not exposed on error
}

func TestGetExtractionUnknownIs404(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router, _, _ := newExtractionRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/extractions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetExtractionIsUserScoped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router, registry, _ := newExtractionRouter(env)

	ext, err := registry.Create(context.Background(), "someone-else", "space-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/extractions/"+ext.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
