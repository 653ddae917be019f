// Package handlers provides REST API handlers for sync push/pull/ack.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/pantryware/pantrysync/internal/errors"
	"github.com/pantryware/pantrysync/internal/models"
	syncpkg "github.com/pantryware/pantrysync/internal/sync"
)

// SyncHandler handles push, pull, acknowledge, and queue operations.
type SyncHandler struct {
	coord *syncpkg.Coordinator
	queue syncpkg.SyncQueue
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(coord *syncpkg.Coordinator, queue syncpkg.SyncQueue) *SyncHandler {
	return &SyncHandler{coord: coord, queue: queue}
}

// pushRequest is the body of POST /sync/push.
type pushRequest struct {
	UserID           string          `json:"user_id"`
	DeviceID         string          `json:"device_id"`
	EntityType       string          `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	Operation        string          `json:"operation"`
	Payload          json.RawMessage `json:"payload"`
	ClientTimestamp  int64           `json:"client_timestamp"`
	KnownBaseVersion int             `json:"known_base_version"`
}

// Push handles POST /sync/push.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	result, err := h.coord.Push(r.Context(), &syncpkg.PendingChange{
		UserID:           req.UserID,
		DeviceID:         models.UUID(req.DeviceID),
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		Operation:        models.Operation(req.Operation),
		Payload:          req.Payload,
		ClientTimestamp:  req.ClientTimestamp,
		KnownBaseVersion: req.KnownBaseVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Pull handles GET /sync/pull?user_id&device_id&limit.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	deviceID := r.URL.Query().Get("device_id")
	if userID == "" || deviceID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "user_id and device_id are required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.coord.Pull(r.Context(), userID, deviceID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}

	writeJSON(w, http.StatusOK, items)
}

// ackRequest is the body of POST /sync/ack.
type ackRequest struct {
	QueueItemID string `json:"queue_item_id"`
}

// Ack handles POST /sync/ack.
func (h *SyncHandler) Ack(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.QueueItemID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "queue_item_id is required"))
		return
	}

	if err := h.coord.Ack(r.Context(), req.QueueItemID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// failRequest is the body of POST /sync/fail.
type failRequest struct {
	QueueItemID  string `json:"queue_item_id"`
	ErrorMessage string `json:"error_message"`
}

// Fail handles POST /sync/fail: a client reports it could not apply a
// drained item.
func (h *SyncHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.QueueItemID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "queue_item_id is required"))
		return
	}

	if err := h.coord.ReportDeliveryFailure(r.Context(), req.QueueItemID, req.ErrorMessage); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Changes handles GET /sync/changes?user_id&device_id&since.
// Catch-up path for devices that missed queue fan-out.
func (h *SyncHandler) Changes(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	deviceID := r.URL.Query().Get("device_id")
	if userID == "" || deviceID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "user_id and device_id are required"))
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	entries, err := h.coord.ChangesSince(r.Context(), userID, deviceID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.ChangeEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// QueueStats handles GET /sync/queue/stats?user_id.
func (h *SyncHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "user_id is required"))
		return
	}

	stats, err := h.queue.QueueStats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// requeueRequest is the body of POST /sync/queue/requeue-failed.
type requeueRequest struct {
	UserID string `json:"user_id"`
}

// RequeueFailed handles POST /sync/queue/requeue-failed. Operator recovery:
// poison items return to the queue with a fresh retry budget.
func (h *SyncHandler) RequeueFailed(w http.ResponseWriter, r *http.Request) {
	var req requeueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.UserID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "user_id is required"))
		return
	}

	count, err := h.queue.RequeueFailed(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"requeued": count})
}

// FailedItems handles GET /sync/queue/failed?user_id: poison items for
// diagnostics.
func (h *SyncHandler) FailedItems(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "user_id is required"))
		return
	}

	items, err := h.queue.ListFailedItems(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}

	writeJSON(w, http.StatusOK, items)
}
