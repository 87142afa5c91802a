package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/textpilot/textpilot-daemon/internal/auth"
	"github.com/textpilot/textpilot-daemon/internal/connection"
	"github.com/textpilot/textpilot-daemon/internal/dispatcher"
	"github.com/textpilot/textpilot-daemon/internal/history"
	"github.com/textpilot/textpilot-daemon/internal/prompt"
)

// Server exposes the REST and websocket endpoints for textpilotd.
type Server struct {
	dispatcher   *dispatcher.Dispatcher
	connections  *connection.Registry
	prompts      *prompt.Loader
	history      history.Store // optional
	verifier     *auth.Verifier
	authDisabled bool
	// logging
	logger   *log.Logger
	logLevel string
}

// Config carries the Server's collaborators.
type Config struct {
	Dispatcher   *dispatcher.Dispatcher
	Connections  *connection.Registry
	Prompts      *prompt.Loader
	History      history.Store
	Verifier     *auth.Verifier
	AuthDisabled bool
}

// New constructs a Server with the required dependencies.
func New(cfg Config) *Server {
	return &Server{
		dispatcher:   cfg.Dispatcher,
		connections:  cfg.Connections,
		prompts:      cfg.Prompts,
		history:      cfg.History,
		verifier:     cfg.Verifier,
		authDisabled: cfg.AuthDisabled,
	}
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws/{userID}", s.handleWebSocket)

	r.Route("/api", func(api chi.Router) {
		if s.verifier != nil && !s.authDisabled {
			api.Use(s.authMiddleware)
		}
		api.Post("/process", s.handleProcess)
		api.Post("/cancel", s.handleCancel)
		api.Get("/prompts", s.handlePrompts)
		api.Get("/history", s.handleHistory)
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.verifier.VerifyRequest(r); err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"buttons": s.prompts.Buttons(),
		"roles":   s.prompts.Roles(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
