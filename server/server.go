// Package server exposes restoration, presets, jobs and history over HTTP.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/stevecastle/retouch/auth"
	"github.com/stevecastle/retouch/history"
	"github.com/stevecastle/retouch/jobqueue"
	"github.com/stevecastle/retouch/presets"
	"github.com/stevecastle/retouch/renderer"
	"github.com/stevecastle/retouch/restore"
	"github.com/stevecastle/retouch/restorer"
	"github.com/stevecastle/retouch/stream"
)

// MaxUploadBytes bounds a /restore request body.
const MaxUploadBytes = 32 << 20

// Dependencies holds what the handlers share.
type Dependencies struct {
	Queue    *jobqueue.Queue
	Restorer *restorer.Restorer
	Presets  *presets.Store
	// History may be nil when restorations are not recorded.
	History *history.Store
	// Auth may be nil; login is then unavailable.
	Auth     *auth.AuthService
	Defaults restore.Params
	Version  string
}

// Routes builds the server mux. Routes other than the restore page,
// /restore, /presets (GET), /login, /health and /stream require a token
// when renderer.AuthMiddleware is set.
func Routes(deps *Dependencies) *http.ServeMux {
	pub := func(h http.HandlerFunc) http.HandlerFunc { return renderer.ApplyMiddlewares(h, renderer.RolePublic) }
	admin := func(h http.HandlerFunc) http.HandlerFunc { return renderer.ApplyMiddlewares(h, renderer.RoleAdmin) }

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", pub(homeHandler(deps)))
	mux.HandleFunc("/restore", pub(restoreHandler(deps)))
	mux.HandleFunc("/login", pub(loginHandler(deps)))
	mux.HandleFunc("/presets", pub(presetsHandler(deps)))
	mux.HandleFunc("/presets/{name}", admin(putPresetHandler(deps)))
	mux.HandleFunc("/tasks", pub(tasksHandler()))
	mux.HandleFunc("/jobs", admin(jobsHandler(deps)))
	mux.HandleFunc("/job/{id}", admin(detailHandler(deps)))
	mux.HandleFunc("/job/{id}/cancel", admin(cancelHandler(deps)))
	mux.HandleFunc("/job/{id}/copy", admin(copyHandler(deps)))
	mux.HandleFunc("/job/{id}/remove", admin(removeHandler(deps)))
	mux.HandleFunc("/jobs/clear", admin(clearNonRunningJobsHandler(deps)))
	mux.HandleFunc("/history", admin(historyHandler(deps)))
	mux.HandleFunc("/health", pub(healthHandler(deps)))
	mux.HandleFunc("/stream", stream.Handler)
	return mux
}

func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
