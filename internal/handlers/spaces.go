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

// SpaceHandler serves the space endpoints.
type SpaceHandler struct {
	manager *syncer.Manager
	logger  *zap.Logger
}

// NewSpaceHandler creates a space handler.
func NewSpaceHandler(manager *syncer.Manager, logger *zap.Logger) *SpaceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpaceHandler{manager: manager, logger: logger}
}

func (h *SpaceHandler) spaces(w http.ResponseWriter, r *http.Request) (*syncer.Spaces, bool) {
	userID := request.UserID(r)
	if userID == "" {
		respondJSONError(w, http.StatusUnauthorized, "unauthorized", "No authenticated user")
		return nil, false
	}
	_, sp, err := h.manager.Session(r.Context(), userID)
	if err != nil {
		h.logger.Error("session_open_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to open session")
		return nil, false
	}
	return sp, true
}

// SpacesResponse pairs the space list with the caller's active space.
type SpacesResponse struct {
	Spaces   []spaceView `json:"spaces"`
	ActiveID string      `json:"activeId"`
}

type spaceView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	CreatedAt int64   `json:"createdAt"`
	Order     float64 `json:"order"`
}

// List handles GET /spaces.
func (h *SpaceHandler) List(w http.ResponseWriter, r *http.Request) {
	sp, ok := h.spaces(w, r)
	if !ok {
		return
	}

	all := sp.List()
	views := make([]spaceView, 0, len(all))
	for _, s := range all {
		views = append(views, spaceView{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt, Order: s.Order})
	}
	respondJSON(w, http.StatusOK, SpacesResponse{Spaces: views, ActiveID: sp.ActiveID(r.Context())})
}

// CreateSpaceRequest is the body for POST /spaces.
type CreateSpaceRequest struct {
	Name string `json:"name"`
}

// Create handles POST /spaces.
func (h *SpaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	sp, ok := h.spaces(w, r)
	if !ok {
		return
	}

	var req CreateSpaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	space, err := sp.Create(r.Context(), validation.SanitizeText(req.Name))
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, spaceView{ID: space.ID, Name: space.Name, CreatedAt: space.CreatedAt, Order: space.Order})
}

// RenameSpaceRequest is the body for PATCH /spaces/{id}.
type RenameSpaceRequest struct {
	Name string `json:"name"`
}

// Rename handles PATCH /spaces/{id}.
func (h *SpaceHandler) Rename(w http.ResponseWriter, r *http.Request) {
	sp, ok := h.spaces(w, r)
	if !ok {
		return
	}

	var req RenameSpaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	err := sp.Rename(r.Context(), mux.Vars(r)["id"], validation.SanitizeText(req.Name))
	switch {
	case errors.Is(err, syncer.ErrUnknownSpace):
		respondJSONError(w, http.StatusNotFound, "not_found", "Unknown space")
	case err != nil:
		respondJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]string{"id": mux.Vars(r)["id"], "name": validation.SanitizeText(req.Name)})
	}
}

// Delete handles DELETE /spaces/{id}. Deleting a space removes its tasks in
// the same batch. The last remaining space cannot be deleted.
func (h *SpaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sp, ok := h.spaces(w, r)
	if !ok {
		return
	}

	err := sp.Delete(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, syncer.ErrLastSpace):
		respondJSONError(w, http.StatusConflict, "conflict", "Cannot delete the last space")
	case errors.Is(err, syncer.ErrUnknownSpace):
		respondJSONError(w, http.StatusNotFound, "not_found", "Unknown space")
	case err != nil:
		h.logger.Error("space_delete_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to delete space")
	default:
		respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}

// ActivateSpaceRequest is the body for PUT /spaces/active.
type ActivateSpaceRequest struct {
	SpaceID string `json:"spaceId"`
}

// Activate handles PUT /spaces/active: it moves the active-space marker and
// switches the caller's task partition.
func (h *SpaceHandler) Activate(w http.ResponseWriter, r *http.Request) {
	userID := request.UserID(r)
	if userID == "" {
		respondJSONError(w, http.StatusUnauthorized, "unauthorized", "No authenticated user")
		return
	}

	var req ActivateSpaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	sc, err := h.manager.Activate(r.Context(), userID, req.SpaceID)
	switch {
	case errors.Is(err, syncer.ErrUnknownSpace):
		respondJSONError(w, http.StatusNotFound, "not_found", "Unknown space")
	case err != nil:
		h.logger.Error("space_activate_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to activate space")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"activeId": sc.Partition().SpaceID})
	}
}
