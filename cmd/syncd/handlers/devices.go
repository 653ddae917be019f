package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/pantryware/pantrysync/internal/errors"
	"github.com/pantryware/pantrysync/internal/models"
	syncpkg "github.com/pantryware/pantrysync/internal/sync"
)

// DeviceHandler handles device registration operations.
type DeviceHandler struct {
	registry syncpkg.DeviceRegistry
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(registry syncpkg.DeviceRegistry) *DeviceHandler {
	return &DeviceHandler{registry: registry}
}

// registerRequest is the body of POST /sync/devices/register.
type registerRequest struct {
	UserID     string `json:"user_id"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	OSVersion  string `json:"os_version"`
	AppVersion string `json:"app_version"`
}

// Register handles POST /sync/devices/register.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.UserID == "" || req.DeviceName == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "user_id and device_name are required"))
		return
	}
	if req.DeviceType != "mobile" && req.DeviceType != "desktop" {
		writeError(w, apperrors.Newf(apperrors.ErrValidation, "unknown device_type %q", req.DeviceType))
		return
	}

	device := &models.DeviceRegistration{
		UserID:     req.UserID,
		DeviceName: req.DeviceName,
		DeviceType: req.DeviceType,
		OSVersion:  req.OSVersion,
		AppVersion: req.AppVersion,
	}
	if err := h.registry.CreateDevice(r.Context(), device); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, device)
}

// Unregister handles POST /sync/devices/{id}/unregister. Soft delete: the
// device stops draining but its history stays referenceable.
func (h *DeviceHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "device id is required"))
		return
	}

	if err := h.registry.DeactivateDevice(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /sync/devices/{id}.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "device id is required"))
		return
	}

	device, err := h.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

// List handles GET /sync/devices?user_id: the user's active devices.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "user_id is required"))
		return
	}

	devices, err := h.registry.ListActiveDevices(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if devices == nil {
		devices = []*models.DeviceRegistration{}
	}

	writeJSON(w, http.StatusOK, devices)
}
