package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get(s.wsPath(), s.handleWebSocket)

	r.With(s.authMiddleware).Post("/cancel_experiment", s.handleCancelCurrent)

	r.Route("/experiments", func(r chi.Router) {
		r.Get("/", s.handleListExperiments)
		r.Get("/current", s.handleCurrentExperiment)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/status", s.handleExperimentStatus)
			r.Get("/action_log", s.handleActionLog)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/start", s.handleStartExperiment)
				r.Post("/optimize/{red}/{green}/{blue}/{n_calls}", s.handleOptimize)
				r.Post("/optimize_llm/{red}/{green}/{blue}/{n_calls}", s.handleOptimizeLLM)
				r.Post("/cancel", s.handleCancelExperiment)
			})
		})
	})

	if s.archive != nil {
		r.Route("/archive/experiments", func(r chi.Router) {
			r.Get("/", s.handleListArchive)
			r.Get("/{id}", s.handleGetArchive)
		})
	}

	if s.audit != nil {
		r.Get("/audit", s.handleListAudit)
	}

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
