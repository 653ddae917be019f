package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/pantryware/pantrysync/internal/errors"
	"github.com/pantryware/pantrysync/internal/models"
	syncpkg "github.com/pantryware/pantrysync/internal/sync"
)

// ConflictHandler handles conflict listing and resolution.
type ConflictHandler struct {
	coord *syncpkg.Coordinator
	store syncpkg.ConflictStore
}

// NewConflictHandler creates a new ConflictHandler.
func NewConflictHandler(coord *syncpkg.Coordinator, store syncpkg.ConflictStore) *ConflictHandler {
	return &ConflictHandler{coord: coord, store: store}
}

// List handles GET /sync/conflicts?user_id: unresolved conflicts awaiting a
// resolution action.
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "user_id is required"))
		return
	}

	conflicts, err := h.store.ListUnresolvedConflicts(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []*models.Conflict{}
	}

	writeJSON(w, http.StatusOK, conflicts)
}

// Get handles GET /sync/conflicts/{id}.
func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "conflict id is required"))
		return
	}

	conflict, err := h.store.GetConflict(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conflict)
}

// resolveRequest is the body of POST /sync/conflicts/{id}/resolve.
type resolveRequest struct {
	Resolution   string          `json:"resolution"`
	ResolvedData json.RawMessage `json:"resolved_data,omitempty"`
	ResolvedBy   string          `json:"resolved_by"`
}

// Resolve handles POST /sync/conflicts/{id}/resolve. Single-shot: a second
// resolve of the same conflict returns 404.
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "conflict id is required"))
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.Resolution == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "resolution is required"))
		return
	}

	if err := h.coord.ResolveConflict(r.Context(), id, req.Resolution, req.ResolvedData, req.ResolvedBy); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
