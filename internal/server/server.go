// Package server provides the HTTP API for askdocs.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/askdocs/askdocs/internal/auth"
	"github.com/askdocs/askdocs/internal/config"
	"github.com/askdocs/askdocs/internal/rag"
	"github.com/askdocs/askdocs/internal/store"
)

// Engine is the per-user RAG engine surface the handlers call.
// Satisfied by *rag.Engine.
type Engine interface {
	ProcessDocument(ctx context.Context, filePath string, docID int64) int
	Query(ctx context.Context, question string) rag.Answer
	DeleteDocument(ctx context.Context, docID int64) bool
	ClearAll(ctx context.Context) bool
	DocumentCount(ctx context.Context) int
}

// EngineFactory constructs a fresh engine for one user per request and
// returns it together with the user's upload directory. Engines are not
// shared across requests; the vector store provides the concurrency
// guarantees.
type EngineFactory func(userID int64) (Engine, string)

// Server is the askdocs HTTP server.
type Server struct {
	store   *store.Store
	auth    *auth.Authenticator
	engines EngineFactory
	config  *config.Config
	logger  *slog.Logger
	server  *http.Server
}

// New creates a server with the given dependencies.
func New(
	st *store.Store,
	authn *auth.Authenticator,
	engines EngineFactory,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   st,
		auth:    authn,
		engines: engines,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Post("/api/v1/auth/register", s.handleRegister)
	r.Post("/api/v1/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/api/v1/documents", s.handleUploadDocument)
		r.Get("/api/v1/documents", s.handleListDocuments)
		r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)

		r.Post("/api/v1/chat", s.handleChat)
		r.Get("/api/v1/chat/history", s.handleChatHistory)

		r.Delete("/api/v1/data", s.handleClearData)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
