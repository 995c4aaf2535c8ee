package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"contactsignal-engine/internal/runner"
)

type RunHandler struct {
	Runner  RunService
	BaseCtx context.Context
	Log     *zap.Logger
}

type runResponse struct {
	OK      bool            `json:"ok"`
	Msg     string          `json:"msg,omitempty"`
	Version int             `json:"version,omitempty"`
	Summary *runner.Summary `json:"summary,omitempty"`
}

func (h RunHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Runner.Status())
}

// Run starts a run in the background. ?ingest=true fetches mail first,
// ?dry_run=true skips saving and ?wait=true blocks until the run finishes.
func (h RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.Runner.Status().Running {
		WriteError(w, r, http.StatusConflict, "run_in_progress", runner.ErrRunInProgress.Error())
		return
	}
	opts := runner.Options{
		Ingest:    queryBool(r, "ingest"),
		DryRun:    queryBool(r, "dry_run"),
		RequestID: RequestIDFrom(r.Context()),
	}

	if queryBool(r, "wait") {
		res, err := h.Runner.Run(r.Context(), opts)
		if err != nil {
			WriteEngineError(w, r, err)
			return
		}
		writeJSON(w, runResponse{OK: true, Version: res.Version, Summary: &res.Summary})
		return
	}

	base := h.BaseCtx
	if base == nil {
		base = context.Background()
	}
	go func() {
		if _, err := h.Runner.Run(base, opts); err != nil && !errors.Is(err, runner.ErrRunInProgress) {
			h.Log.Warn("background run failed", zap.String("request_id", opts.RequestID), zap.Error(err))
		}
	}()
	WriteJSON(w, http.StatusAccepted, runResponse{OK: true, Msg: "started"})
}
