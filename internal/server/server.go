// Package server exposes the HTTP control, ingestion and conversation
// surfaces around the pipeline.
package server

import (
	"context"
	"time"

	"mailbot/internal/cache"
	"mailbot/internal/config"
	"mailbot/internal/handlers"
	"mailbot/internal/ledger"
	"mailbot/internal/models"
	"mailbot/internal/rag"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Server is the HTTP front of the service.
type Server struct {
	echo     *echo.Echo
	config   *config.Config
	logger   zerolog.Logger
	db       *sqlx.DB
	pipeline handlers.Pipeline
	index    rag.Index
	ledger   ledger.Ledger
	turns    handlers.ConversationReader
	stats    *cache.Cache[models.StatsResponse]
}

// New creates a server instance around the pipeline and its stores.
func New(cfg *config.Config, logger zerolog.Logger, db *sqlx.DB,
	pipeline handlers.Pipeline, index rag.Index, processed ledger.Ledger,
	turns handlers.ConversationReader) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		db:       db,
		pipeline: pipeline,
		index:    index,
		ledger:   processed,
		turns:    turns,
		stats:    cache.New[models.StatsResponse](),
	}
}

// zerologMiddleware creates a zerolog-based logging middleware for Echo.
func (s *Server) zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			s.logger.Info().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Int("status", res.Status).
				Int64("latency_ms", time.Since(start).Milliseconds()).
				Msg("HTTP request")

			return err
		}
	}
}

// Initialize sets up the Echo framework with middleware and routes.
func (s *Server) Initialize() {
	s.echo = echo.New()

	s.echo.Use(s.zerologMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.HideBanner = true

	s.setupRoutes()
}

func (s *Server) setupRoutes() {
	// health at root level for monitoring
	s.echo.GET("/healthz", handlers.HealthHandler(s.config.Version, s.db))

	api := s.echo.Group("/api")
	api.GET("/status", handlers.StatusHandler(s.pipeline))
	api.POST("/poll", handlers.TriggerHandler(s.pipeline))
	api.POST("/documents", handlers.DocumentHandler(s.index))
	api.POST("/articles", handlers.ArticleHandler(s.index))
	api.GET("/search", handlers.SearchHandler(s.index))
	api.GET("/conversations/:sender", handlers.ConversationsHandler(s.turns))
	api.GET("/stats", handlers.StatsHandler(s.index, s.ledger, s.stats))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("port", s.config.Port).Msg("server starting")
	return s.echo.Start(":" + s.config.Port)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
