package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"vidgateway/internal/api/middleware"
	"vidgateway/internal/api/shared"
	"vidgateway/internal/config"
	"vidgateway/internal/pool"
	"vidgateway/internal/queue"
)

// NewRouter assembles the full HTTP surface: task and session endpoints,
// stats, the legacy generations shim and the health check.
func NewRouter(engine *queue.Engine, manager *pool.Manager, authCfg config.AuthConfig, logger *slog.Logger) http.Handler {
	taskHandler := NewTaskHandler(engine, logger)
	sessionHandler := NewSessionHandler(manager, logger)
	requireKey := middleware.APIKeyMiddleware(authCfg)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		shared.RespondWithJSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.With(requireKey).Post("/", taskHandler.CreateTask)
			r.Get("/", taskHandler.ListTasks)
			r.Get("/{id}", taskHandler.GetTask)
			r.Post("/{id}/cancel", taskHandler.CancelTask)
			r.Post("/{id}/retry", taskHandler.RetryTask)
		})

		r.Get("/stats", taskHandler.GetStats)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.CreateSession)
			r.Get("/", sessionHandler.ListSessions)
			r.Get("/{id}", sessionHandler.GetSession)
			r.Patch("/{id}", sessionHandler.UpdateSession)
			r.Delete("/{id}", sessionHandler.DeleteSession)
			r.Post("/{id}/test", sessionHandler.TestSession)
		})
	})

	// Compatibility shim for clients of the previous generation API.
	r.With(requireKey).Post("/v1/videos/generations", taskHandler.CreateGeneration)

	return r
}
