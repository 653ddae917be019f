// Package handlers provides REST API handlers for the sync daemon.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/pantryware/pantrysync/internal/errors"
	"github.com/pantryware/pantrysync/internal/logging"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an application error to an HTTP status and writes it.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrVersionConflict, apperrors.ErrDuplicate, apperrors.ErrDeviceInactive, apperrors.ErrDeliveryExhausted:
		status = http.StatusConflict
	case apperrors.ErrTransientStore, apperrors.ErrSyncTimeout:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logging.Error("Request failed", err, nil)
	}

	writeJSON(w, status, errorBody{Code: string(code), Message: err.Error()})
}
