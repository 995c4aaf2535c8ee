package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// NewMux returns the raw mux so the caller can add its own routes.
func NewMux(d Deps) *http.ServeMux {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()

	hh := HealthHandler{Runner: d.Runner, DB: d.DB}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))

	// Contacts
	ch := ContactsHandler{Runner: d.Runner}
	mux.HandleFunc("/contacts", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.List,
	}))
	mux.HandleFunc("/contacts/", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.GetByPath, // expects /contacts/{email}
	}))

	// Review queue and run history
	rv := ReviewHandler{DB: d.DB}
	mux.HandleFunc("/review", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: rv.List,
	}))
	mux.HandleFunc("/runs", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: rv.Runs,
	}))

	// Runs
	rh := RunHandler{Runner: d.Runner, BaseCtx: d.BaseCtx, Log: log}
	mux.HandleFunc("/run", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: rh.Run,
	}))
	mux.HandleFunc("/run/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: rh.Status,
	}))

	// Config
	cfh := ConfigHandler{
		CfgVal:      d.CfgVal,
		UserCfgPath: d.UserCfgPath,
		LoadCfg:     d.LoadCfg,
		Hub:         d.Hub,
	}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: cfh.Get,
		http.MethodPut: cfh.Put,
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: cfh.Path,
	}))
	mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: cfh.Validate,
	}))

	// Secrets (use cfgVal, NOT a snapshot cfg)
	sh := SecretsHandler{CfgVal: d.CfgVal}
	mux.HandleFunc("/api/secrets/imap", methodMux(map[string]http.HandlerFunc{
		http.MethodPost:   sh.SetIMAPPassword,
		http.MethodDelete: sh.DeleteIMAPPassword,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	return mux
}

// NewHandler wraps the mux with the standard middleware stack.
func NewHandler(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return Chain(NewMux(d), RequestID, Recover(log), AccessLog(log), Cors)
}
