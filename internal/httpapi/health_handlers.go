package httpapi

import (
	"context"
	"net/http"
	"time"

	"contactsignal-engine/internal/store"
)

type HealthHandler struct {
	Runner RunService
	DB     *store.DB
}

// Health always answers 200 so the UI can tell "engine up, ledger down"
// apart from "engine down".
func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.Runner.Status()
	body := map[string]any{
		"ok":      true,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"running": st.Running,
		"version": st.Version,
	}
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			body["ok"] = false
			body["ledger_error"] = err.Error()
		}
	}
	writeJSON(w, body)
}
