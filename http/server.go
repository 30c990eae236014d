package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ServerConfig holds the configuration for the HTTP management server.
type ServerConfig struct {
	Listen    string
	AuthToken string // Bearer token; empty disables auth.
}

// Server is the HTTP management API server.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
}

// NewServer creates a new HTTP management server driving mgr.
func NewServer(cfg ServerConfig, mgr Controller) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware())

	// Public endpoints (no auth).
	engine.GET("/health", HealthHandler)
	engine.GET("/status", StatusHandler(mgr))

	// Authenticated memory manager endpoints.
	group := engine.Group("/memmgr")
	group.Use(AuthMiddleware(cfg.AuthToken))
	{
		h := NewMemmgrHandler(mgr)
		group.GET("/segments", h.Segments)
		group.POST("/reload", h.Reload)
		group.POST("/cancel", h.Cancel)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Listen,
			Handler: engine,
		},
		engine: engine,
	}
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	slog.Info("HTTP management server starting", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server with a 5-second deadline.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}

// Engine returns the underlying Gin engine (useful for testing).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
