package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/cache"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/database"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/events"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/pipeline"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	repo        *database.Repository
	pipeline    *pipeline.Service
	eventBus    *events.Bus
	hub         *WSHub
	market      *marketdata.Client
	quotes      *marketdata.QuoteStream // nil when no stream is configured
	cache       *cache.Service          // nil when redis is disabled
	config      ServerConfig
	rateLimiter *RateLimiter // guards endpoints that reach the market data provider
	log         zerolog.Logger
}

// NewServer creates a new API server. quotes and cacheSvc are optional.
func NewServer(config ServerConfig, repo *database.Repository, pipe *pipeline.Service, eventBus *events.Bus,
	market *marketdata.Client, quotes *marketdata.QuoteStream, cacheSvc *cache.Service, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		repo:        repo,
		pipeline:    pipe,
		eventBus:    eventBus,
		market:      market,
		quotes:      quotes,
		cache:       cacheSvc,
		config:      config,
		rateLimiter: NewRateLimiter(30, time.Minute), // backtests fan out bar requests upstream
		log:         logger.With().Str("component", "api").Logger(),
	}

	server.hub = InitWebSocket(eventBus, server.log)
	server.setupRoutes()

	return server
}

// rateLimitMiddleware rate limits requests by endpoint path
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests to this endpoint. Please slow down to avoid provider bans.",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		// Channel endpoints
		api.GET("/channels", s.handleListChannels)
		api.POST("/channels", s.handleCreateChannel)
		api.POST("/channels/:id/toggle", s.handleToggleChannel)
		api.GET("/channels/:id/stats", s.handleChannelStats)
		api.POST("/channels/:id/reset-failed", s.handleResetFailed)

		// Pattern endpoints
		api.GET("/patterns", s.handleListPatterns)
		api.POST("/patterns", s.handleCreatePattern)
		api.PUT("/patterns/:id", s.handleUpdatePattern)
		api.DELETE("/patterns/:id", s.handleDeletePattern)
		api.POST("/patterns/reload", s.handleReloadPatterns)

		// Rule endpoints
		api.GET("/rules", s.handleListRules)
		api.POST("/rules", s.handleCreateRule)
		api.GET("/rules/:id", s.handleGetRule)
		api.PUT("/rules/:id", s.handleUpdateRule)
		api.DELETE("/rules/:id", s.handleDeleteRule)
		api.POST("/rules/reload", s.handleReloadRules)

		// Pipeline triggers
		api.POST("/parse", s.handleParse)
		api.POST("/detect", s.handleDetect)

		// Signal endpoints
		api.GET("/signals", s.handleGetSignals)

		// Quotes (rate limited, a stream miss falls back to the provider)
		api.GET("/quotes/:ticker", s.rateLimitMiddleware(), s.handleGetQuote)

		// Cache administration
		api.DELETE("/cache/:ticker", s.handleInvalidateCache)

		// Consensus event endpoints
		api.GET("/events", s.handleListEvents)
		api.GET("/events/:id", s.handleGetEvent)
		api.GET("/events/:id/signals", s.handleGetEventSignals)
		api.POST("/events/close-stale", s.handleCloseStaleEvents)

		// Backtest endpoints (rate limited, each run fans out bar requests)
		backtests := api.Group("/backtests")
		backtests.Use(s.rateLimitMiddleware())
		{
			backtests.POST("", s.handleRunBacktest)
			backtests.GET("", s.handleListBacktests)
			backtests.GET("/:id", s.handleGetBacktest)
			backtests.GET("/:id/trades", s.handleGetBacktestTrades)
		}
	}

	// WebSocket endpoint for real-time events
	s.router.GET("/ws", s.handleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"database":   "healthy",
		"ws_clients": s.hub.GetClientCount(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
