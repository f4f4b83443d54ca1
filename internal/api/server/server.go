package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feral-file/ff-version-index/internal/api/middleware"
	"github.com/feral-file/ff-version-index/internal/api/rest"
	"github.com/feral-file/ff-version-index/internal/logger"
	"github.com/feral-file/ff-version-index/internal/store"
)

// Config holds the server configuration
type Config struct {
	Debug          bool
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	Auth           middleware.AuthConfig
	MaxBlockWindow uint64
	MaxPageSize    int
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	store      store.Store
	httpServer *http.Server
	handler    rest.Handler

	// cancel stops background work started by the handler
	cancel context.CancelFunc
}

// New creates a new API server
func New(cfg Config, st store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config: cfg,
		store:  st,
		handler: rest.NewHandler(ctx, rest.Config{
			MaxBlockWindow: cfg.MaxBlockWindow,
			MaxPageSize:    cfg.MaxPageSize,
		}, st),
		cancel: cancel,
	}
}

// Router builds the gin engine with every middleware and route
func (s *Server) Router() *gin.Engine {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.SetupCORS())

	rest.SetupRoutes(router, s.handler, s.config.Auth)

	return router
}

// Start initializes and starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server", zap.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server and cancels background rebuilds
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	s.cancel()
	// background rebuilds must be gone before the caller closes the store
	defer s.handler.Wait()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
