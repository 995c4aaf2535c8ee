package httpapi

import (
	"net/http"

	"contactsignal-engine/internal/domain"
	"contactsignal-engine/internal/store"
)

type ReviewHandler struct {
	DB *store.DB
}

func (h ReviewHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := store.ListReviewItems(r.Context(), h.DB.Pool, r.URL.Query().Get("reason"))
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if items == nil {
		items = []domain.ReviewItem{}
	}
	writeJSON(w, items)
}

func (h ReviewHandler) Runs(w http.ResponseWriter, r *http.Request) {
	runs, err := store.ListRuns(r.Context(), h.DB.Pool, queryInt(r, "limit", 50))
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, runs)
}
