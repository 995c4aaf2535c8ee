package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"contactsignal-engine/internal/runner"
	"contactsignal-engine/internal/store"
)

type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = RequestIDFrom(r.Context())
	WriteJSON(w, status, e)
}

// WriteEngineError maps the engine's sentinel errors onto status codes.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, store.ErrSnapshotMissing):
		status, code = http.StatusServiceUnavailable, "snapshot_missing"
	case errors.Is(err, store.ErrSnapshotCorrupt):
		status, code = http.StatusInternalServerError, "snapshot_corrupt"
	case errors.Is(err, runner.ErrRunInProgress):
		status, code = http.StatusConflict, "run_in_progress"
	case errors.Is(err, store.ErrSnapshotLocked):
		status, code = http.StatusConflict, "busy"
	case errors.Is(err, store.ErrVersionConflict):
		status, code = http.StatusConflict, "version_conflict"
	}
	WriteError(w, r, status, code, err.Error())
}
