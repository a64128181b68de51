// Package server exposes the dashboard HTTP API: project, message and
// review-item CRUD plus the streaming chat relay endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/atelier/config"
	"github.com/richinex/atelier/relay"
	"github.com/richinex/atelier/storage"
)

// Server wires storage, the provider registry and the HTTP surface
// together. One instance serves the single operator.
type Server struct {
	settings config.Settings
	store    storage.Store
	registry *relay.Registry
	client   *http.Client
	log      zerolog.Logger
	router   *http.ServeMux

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	httpServer *http.Server
}

// New creates a server with its routes registered.
func New(settings config.Settings, store storage.Store, registry *relay.Registry, log zerolog.Logger) *Server {
	s := &Server{
		settings: settings,
		store:    store,
		registry: registry,
		// No client timeout: responses are open-ended streams. Lifetime is
		// bounded by the request context instead.
		client:   &http.Client{},
		log:      log,
		router:   http.NewServeMux(),
		inflight: make(map[string]context.CancelFunc),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /api/projects", s.handleListProjects)
	s.router.HandleFunc("POST /api/projects", s.handleCreateProject)
	s.router.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)
	s.router.HandleFunc("GET /api/projects/{id}/messages", s.handleListMessages)

	s.router.HandleFunc("GET /api/projects/{id}/reviews", s.handleListReviews)
	s.router.HandleFunc("POST /api/projects/{id}/reviews", s.handleCreateReview)
	s.router.HandleFunc("PATCH /api/reviews/{id}", s.handleUpdateReview)

	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("POST /api/chat/cancel", s.handleChatCancel)
	s.router.HandleFunc("GET /api/models", s.handleModels)

	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the full middleware-wrapped handler. Exposed so tests
// can drive the API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	return s.withRecovery(s.withRequestLogging(s.router))
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.settings.HTTP.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", s.settings.HTTP.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, cancelling any active streams
// first so their partial answers are checkpointed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.inflight {
		cancel()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerStream records the cancel func for an active stream under its
// placeholder message id.
func (s *Server) registerStream(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.inflight[id] = cancel
	s.mu.Unlock()
}

func (s *Server) unregisterStream(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// cancelStream cancels the stream registered under id, reporting whether
// one was found.
func (s *Server) cancelStream(id string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
