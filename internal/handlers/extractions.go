package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/screentask/screentask/internal/extractions"
	"github.com/screentask/screentask/internal/models"
	"github.com/screentask/screentask/internal/queue"
	"github.com/screentask/screentask/internal/request"
	"github.com/screentask/screentask/internal/syncer"
	"github.com/screentask/screentask/internal/validation"
)

// maxImageBytes caps decoded screenshot size at 10 MiB.
const maxImageBytes = 10 << 20

// ExtractionHandler accepts pasted screenshots and exposes job status. The
// actual AI call happens in the worker; the handler only records a pending
// job and enqueues it.
type ExtractionHandler struct {
	manager  *syncer.Manager
	registry *extractions.Registry
	jobQueue queue.JobQueue
	logger   *zap.Logger
}

// NewExtractionHandler creates an extraction handler.
func NewExtractionHandler(manager *syncer.Manager, registry *extractions.Registry, jobQueue queue.JobQueue, logger *zap.Logger) *ExtractionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionHandler{manager: manager, registry: registry, jobQueue: jobQueue, logger: logger}
}

// CreateExtractionRequest is the body for POST /extractions.
type CreateExtractionRequest struct {
	ImageBase64  string `json:"imageBase64"`
	MediaType    string `json:"mediaType"`
	CustomPrompt string `json:"customPrompt"`
	SpaceID      string `json:"spaceId"`
}

// ExtractionView is the status payload returned to pollers.
type ExtractionView struct {
	ID      string                  `json:"id"`
	Status  models.ExtractionStatus `json:"status"`
	TaskIDs []string                `json:"taskIds,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// Create handles POST /extractions: validate the payload, record a pending
// job, enqueue it, and answer 202 with the job id.
func (h *ExtractionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := request.UserID(r)
	if userID == "" {
		respondJSONError(w, http.StatusUnauthorized, "unauthorized", "No authenticated user")
		return
	}

	var req CreateExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.ImageBase64 == "" {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "imageBase64 is required")
		return
	}
	if err := validation.ValidateMediaType(req.MediaType); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "imageBase64 is not valid base64")
		return
	}
	if len(decoded) > maxImageBytes {
		respondJSONError(w, http.StatusRequestEntityTooLarge, "too_large", "Screenshot exceeds the 10 MiB limit")
		return
	}

	spaceID := req.SpaceID
	if spaceID == "" {
		sc, _, err := h.manager.Session(r.Context(), userID)
		if err != nil {
			h.logger.Error("session_open_failed", zap.Error(err))
			respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to open session")
			return
		}
		spaceID = sc.Partition().SpaceID
	}

	ext, err := h.registry.Create(r.Context(), userID, spaceID)
	if err != nil {
		h.logger.Error("extraction_record_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to record extraction job")
		return
	}

	job := queue.NewExtractionJob(userID, spaceID, ext.ID, req.ImageBase64, req.MediaType, req.CustomPrompt)
	if err := h.jobQueue.Enqueue(r.Context(), job); err != nil {
		h.logger.Error("extraction_enqueue_failed", zap.Error(err))
		if markErr := h.registry.MarkFailed(r.Context(), userID, ext.ID, "failed to enqueue extraction job"); markErr != nil {
			h.logger.Error("extraction_mark_failed_error", zap.Error(markErr))
		}
		respondJSONError(w, http.StatusServiceUnavailable, "unavailable", "Extraction queue is unavailable")
		return
	}

	respondJSON(w, http.StatusAccepted, ExtractionView{ID: ext.ID, Status: ext.Status})
}

// Get handles GET /extractions/{id}.
func (h *ExtractionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := request.UserID(r)
	if userID == "" {
		respondJSONError(w, http.StatusUnauthorized, "unauthorized", "No authenticated user")
		return
	}

	ext, err := h.registry.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, extractions.ErrNotFound) {
			respondJSONError(w, http.StatusNotFound, "not_found", "Unknown extraction")
			return
		}
		h.logger.Error("extraction_lookup_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to look up extraction")
		return
	}

	respondJSON(w, http.StatusOK, ExtractionView{
		ID:      ext.ID,
		Status:  ext.Status,
		TaskIDs: ext.TaskIDs,
		Error:   ext.Error,
	})
}
