package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/abacus-exp/abacus/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	store     store.Store
	port      int
	token     string
	tokenFile string
	router    *chi.Mux
	startTime time.Time
	now       func() time.Time
}

func New(s store.Store, port int, tokenFile string) *Server {
	srv := &Server{
		store:     s,
		port:      port,
		token:     generateToken(),
		tokenFile: tokenFile,
		router:    chi.NewRouter(),
		startTime: time.Now(),
		now:       time.Now,
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RequestLogger(slogFormatter{}))
	s.router.Use(middleware.Recoverer)

	// Public endpoints
	s.router.Get("/health", s.handleHealth)

	// API endpoints (protected)
	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/experiments", s.handleListExperiments)
		r.Post("/experiments", s.handleImportSnapshot)
		r.Get("/experiments/{id}", s.handleGetExperiment)
		r.Get("/experiments/{id}/health", s.handleExperimentHealth)
		r.Get("/experiments/{id}/recommendations", s.handleExperimentRecommendations)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Write token to file for the token command
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			slog.Warn("failed to write token file", "path", s.tokenFile, "error", err)
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "port", s.port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// SetClock replaces the time source used for run time and recommendations.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

func generateToken() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a simple token if crypto/rand fails
		return "a1b2c3d4e5f6a7b8"
	}
	return hex.EncodeToString(bytes)
}
