package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/garnicia/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(LocalOrigin)
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/notes", func(r chi.Router) {
		r.Get("/", h.ListNotes)
		r.Post("/", h.CreateNote)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.OpenNote)
			r.Delete("/", h.DeleteNote)
			r.Put("/buffer", h.UpdateBuffer)
			r.Post("/save", h.SaveNote)
			r.Post("/close", h.CloseNote)
			r.Post("/rename", h.RenameNote)
		})
	})

	r.Get("/folder", h.GetFolder)
	r.Put("/folder", h.SelectFolder)

	r.Get("/recovery", h.ListRecovery)
	r.Post("/recovery/{name}/restore", h.RestoreRecovery)
	r.Post("/recovery/{name}/discard", h.DiscardRecovery)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// Health registers the unauthenticated liveness and readiness probes.
// ready reports whether the journal is usable.
func Health(r chi.Router, ready func() bool) {
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
