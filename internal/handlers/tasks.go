package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/screentask/screentask/internal/request"
	"github.com/screentask/screentask/internal/syncer"
	"github.com/screentask/screentask/internal/validation"
)

// TaskHandler serves the task endpoints. Every operation runs through the
// caller's live sync session, so responses reflect the optimistic local
// collection immediately.
type TaskHandler struct {
	manager *syncer.Manager
	logger  *zap.Logger
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(manager *syncer.Manager, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{manager: manager, logger: logger}
}

func (h *TaskHandler) session(w http.ResponseWriter, r *http.Request) (*syncer.Syncer, bool) {
	userID := request.UserID(r)
	if userID == "" {
		respondJSONError(w, http.StatusUnauthorized, "unauthorized", "No authenticated user")
		return nil, false
	}

	// An explicit space parameter switches the active partition first.
	if space := r.URL.Query().Get("space"); space != "" {
		sc, err := h.manager.Activate(r.Context(), userID, space)
		if err != nil {
			if errors.Is(err, syncer.ErrUnknownSpace) {
				respondJSONError(w, http.StatusNotFound, "not_found", "Unknown space")
				return nil, false
			}
			h.logger.Error("session_activate_failed", zap.Error(err))
			respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to open session")
			return nil, false
		}
		return sc, true
	}

	sc, _, err := h.manager.Session(r.Context(), userID)
	if err != nil {
		h.logger.Error("session_open_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to open session")
		return nil, false
	}
	return sc, true
}

// List handles GET /tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sc.Snapshot())
}

// CreateTasksRequest is the body for POST /tasks.
type CreateTasksRequest struct {
	Texts       []string `json:"texts"`
	Description string   `json:"description"`
}

// Create handles POST /tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	var req CreateTasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	texts := make([]string, 0, len(req.Texts))
	for _, t := range req.Texts {
		if s := validation.SanitizeText(t); s != "" {
			texts = append(texts, s)
		}
	}
	if len(texts) == 0 {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "At least one non-empty task text is required")
		return
	}

	col := sc.Add(texts, validation.SanitizeText(req.Description))
	respondJSON(w, http.StatusCreated, col)
}

// Toggle handles POST /tasks/{id}/toggle.
func (h *TaskHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sc.Toggle(mux.Vars(r)["id"]))
}

// Delete handles DELETE /tasks/{id}.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sc.Delete(mux.Vars(r)["id"]))
}

// UpdateTaskRequest is the body for PATCH /tasks/{id}. Nil fields are left
// untouched.
type UpdateTaskRequest struct {
	Text          *string `json:"text"`
	Description   *string `json:"description"`
	ScheduledDate *string `json:"scheduledDate"`
}

// Update handles PATCH /tasks/{id}.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Text == nil && req.Description == nil && req.ScheduledDate == nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "No fields to update")
		return
	}

	id := mux.Vars(r)["id"]
	col := sc.Snapshot()
	if req.Text != nil {
		text := validation.SanitizeText(*req.Text)
		if text == "" {
			respondJSONError(w, http.StatusBadRequest, "invalid_request", "Task text cannot be empty")
			return
		}
		col = sc.EditText(id, text)
	}
	if req.Description != nil {
		col = sc.EditDescription(id, validation.SanitizeText(*req.Description))
	}
	if req.ScheduledDate != nil {
		if err := validation.ValidateScheduledDate(*req.ScheduledDate); err != nil {
			respondJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		col = sc.SetScheduledDate(id, *req.ScheduledDate)
	}
	respondJSON(w, http.StatusOK, col)
}

// Frog handles POST /tasks/{id}/frog.
func (h *TaskHandler) Frog(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sc.SetFrog(mux.Vars(r)["id"]))
}

// ScheduleToday handles POST /tasks/{id}/schedule-today.
func (h *TaskHandler) ScheduleToday(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sc.ScheduleForToday(mux.Vars(r)["id"]))
}

// AddSubtaskRequest is the body for POST /tasks/{id}/subtasks.
type AddSubtaskRequest struct {
	Text string `json:"text"`
}

// AddSubtask handles POST /tasks/{id}/subtasks.
func (h *TaskHandler) AddSubtask(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	var req AddSubtaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	text := validation.SanitizeText(req.Text)
	if text == "" {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Subtask text cannot be empty")
		return
	}
	respondJSON(w, http.StatusCreated, sc.AddSubtask(mux.Vars(r)["id"], text))
}

// ReorderRequest is the body for POST /tasks/reorder.
type ReorderRequest struct {
	ActiveID string `json:"activeId"`
	OverID   string `json:"overId"`
}

// Reorder handles POST /tasks/reorder.
func (h *TaskHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.ActiveID == "" || req.OverID == "" {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "activeId and overId are required")
		return
	}
	respondJSON(w, http.StatusOK, sc.Reorder(req.ActiveID, req.OverID))
}
