// Package api exposes the operator status API: health, engine state, the
// operator book and recent predictions.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hyperliquid-copy-bot/config"
	"hyperliquid-copy-bot/internal/auth"
	"hyperliquid-copy-bot/internal/database"
	"hyperliquid-copy-bot/internal/engine"
	"hyperliquid-copy-bot/internal/hyperliquid"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server is the HTTP status server.
type Server struct {
	cfg          *config.Config
	engine       *engine.Engine
	db           *database.DB
	venue        hyperliquid.Client
	jwtManager   *auth.JWTManager
	passwordHash string
	router       *gin.Engine
	httpServer   *http.Server
	log          zerolog.Logger
}

// NewServer wires the router. The operator password is bcrypt-hashed once at
// startup; login compares against the hash.
func NewServer(cfg *config.Config, eng *engine.Engine, db *database.DB, venue hyperliquid.Client, logger zerolog.Logger) (*Server, error) {
	passwordHash := ""
	if cfg.AuthConfig.Password != "" {
		var err error
		passwordHash, err = auth.HashPassword(cfg.AuthConfig.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash API password: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8090"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:          cfg,
		engine:       eng,
		db:           db,
		venue:        venue,
		jwtManager:   auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration),
		passwordHash: passwordHash,
		router:       router,
		log:          logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/v1/auth/login", s.handleLogin)

	protected := s.router.Group("/api/v1")
	protected.Use(auth.Middleware(s.jwtManager))
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/positions", s.handlePositions)
		protected.GET("/independent", s.handleIndependent)
		protected.GET("/predictions", s.handlePredictions)
		protected.GET("/actions", s.handleActions)
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.ServerConfig.Host, s.cfg.ServerConfig.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.log.Info().Str("addr", addr).Msg("status API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status API server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
