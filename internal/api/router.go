package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/good-yellow-bee/firehunt/internal/manager"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/hunts", s.handleListHunts)
		r.Get("/hunts/{category}", s.handleCategoryHunts)
		r.Post("/reload", s.handleReload)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]string{"status": "ok"})
}

// handleListHunts returns the status of every manager's hunt set.
func (s *Server) handleListHunts(w http.ResponseWriter, r *http.Request) {
	statuses := make([]manager.Status, 0, len(s.service.Managers()))
	for _, m := range s.service.Managers() {
		statuses = append(statuses, m.Status())
	}
	OK(w, statuses)
}

// handleCategoryHunts returns one category's hunt set.
func (s *Server) handleCategoryHunts(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	m, ok := s.service.Manager(category)
	if !ok {
		NotFound(w, "unknown category: "+category)
		return
	}
	OK(w, m.Status())
}

// handleReload asks every manager to reload its hunt definitions.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.service.SignalReload()
	JSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
}
