// Package api exposes the simulation engine over HTTP: asynchronous
// simulation management plus the synchronous create-and-run endpoint.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/session"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/store"
)

// Machine-readable error codes returned in error payloads.
const (
	ErrTypeValidation = "VALIDATION_ERROR"
	ErrTypeNotFound   = "NOT_FOUND"
	ErrTypeNotReady   = "NOT_READY"
	ErrTypeInternal   = "INTERNAL_ERROR"
)

// Server handles HTTP requests.
type Server struct {
	manager     *session.Manager
	db          *store.Store
	templateDir string
	timeout     time.Duration
}

// NewServer creates a new API server. The store may be nil, in which case
// persistence and CSV export are disabled.
func NewServer(manager *session.Manager, db *store.Store, templateDir string, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{
		manager:     manager,
		db:          db,
		templateDir: templateDir,
		timeout:     timeout,
	}
}

// Routes sets up the HTTP routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Post("/simulations", s.handleCreateSimulations)
		r.Get("/simulations", s.handleListSimulations)
		r.Get("/simulations/{id}", s.handleGetSimulation)
		r.Get("/simulations/{id}/result", s.handleGetResult)
		r.Get("/simulations/{id}/history", s.handleGetHistory)
		r.Post("/simulations/{id}/cancel", s.handleCancel)
		r.Get("/simulations/{id}/export", s.handleExport)
	})

	// The synchronous endpoint runs every game to completion before
	// responding, so it carries no per-request timeout; session timeouts
	// bound it instead.
	r.Post("/run", s.handleRun)

	return r
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorBody{Error: message, Code: code})
}
