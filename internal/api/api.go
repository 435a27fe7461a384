// Package api provides the read-only status REST surface over a running
// learner.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/imjszhang/wiseflow/pkg/kaichi"
)

// version is stamped by the build.
var version = "dev"

// SetVersion sets the reported version.
func SetVersion(v string) {
	version = v
}

// Server exposes loop state, progress, and the skill library.
type Server struct {
	agent  *kaichi.Kaichi
	router chi.Router
}

// NewServer creates the API server over an orchestrator.
func NewServer(agent *kaichi.Kaichi) *Server {
	s := &Server{agent: agent}
	s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/status", s.handleStatus)
	r.Get("/progress", s.handleProgress)
	r.Get("/skills", s.handleListSkills)
	r.Get("/skills/{name}", s.handleGetSkill)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Status())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	completed, failed, iterations, successRate := s.agent.Curriculum().Progress().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"completed_tasks": completed,
		"failed_tasks":    failed,
		"iteration_count": iterations,
		"success_rate":    successRate,
	})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"skills": s.agent.Skills().ListSkills(),
	})
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	skill, ok := s.agent.Skills().GetSkill(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "skill not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        name,
		"code":        skill.Code,
		"description": skill.Description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
