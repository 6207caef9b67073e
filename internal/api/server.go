// Package api exposes the trading system over HTTP: authentication, alert
// approval, watchlist management, and a WebSocket event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/auth"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/database"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/engine"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/events"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/scheduler"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/vault"
)

// RateLimiter is a simple in-memory sliding-window limiter, used on the
// auth endpoints.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether a request under key fits in the window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := time.Now().Add(-r.window)
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
	r.requests[key] = append(recent, time.Now())
	return true
}

// CredentialManager updates brokerage credentials for a user.
type CredentialManager interface {
	UpdateCredentials(ctx context.Context, userID int64, creds vault.BrokerCredentials) error
	RemoveCredentials(ctx context.Context, userID int64) error
}

// BrokerFactory mirrors the engine's factory for the read-only account
// endpoints.
type BrokerFactory interface {
	engine.BrokerFactory
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	repo        *database.Repository
	manager     *engine.Manager
	brokers     BrokerFactory
	credentials CredentialManager
	authService *auth.Service
	jwt         *auth.JWTManager
	sched       *scheduler.Scheduler
	clock       *scheduler.MarketClock
	bus         *events.Bus
	hub         *WSHub
	log         *logging.Logger

	authLimiter *RateLimiter
}

// Deps carries the server's collaborators.
type Deps struct {
	Repo        *database.Repository
	Manager     *engine.Manager
	Brokers     BrokerFactory
	Credentials CredentialManager
	Auth        *auth.Service
	JWT         *auth.JWTManager
	Scheduler   *scheduler.Scheduler
	Clock       *scheduler.MarketClock
	Bus         *events.Bus
	Log         *logging.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Log == nil {
		deps.Log = logging.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      config,
		repo:        deps.Repo,
		manager:     deps.Manager,
		brokers:     deps.Brokers,
		credentials: deps.Credentials,
		authService: deps.Auth,
		jwt:         deps.JWT,
		sched:       deps.Scheduler,
		clock:       deps.Clock,
		bus:         deps.Bus,
		hub:         NewWSHub(deps.Log),
		log:         deps.Log.WithComponent("api"),
		authLimiter: NewRateLimiter(10, time.Minute),
	}

	s.registerRoutes()
	if s.bus != nil {
		s.bus.SubscribeAll(s.hub.BroadcastEvent)
	}
	go s.hub.Run()

	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/register", s.rateLimited("auth"), s.handleRegister)
	authGroup.POST("/login", s.rateLimited("auth"), s.handleLogin)

	api := s.router.Group("/api")
	api.Use(auth.RequireAuth(s.jwt))
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/balance", s.handleBalance)

		api.GET("/alerts", s.handleListAlerts)
		api.POST("/alerts/:id/approve", s.handleApproveAlert)
		api.POST("/alerts/:id/reject", s.handleRejectAlert)

		api.GET("/watchlist", s.handleGetWatchlist)
		api.POST("/watchlist", s.handleAddWatchlistItem)
		api.DELETE("/watchlist/:code", s.handleRemoveWatchlistItem)

		api.GET("/trades", s.handleListTrades)

		api.PUT("/settings/mode", s.handleUpdateMode)
		api.PUT("/settings/credentials", s.handleUpdateCredentials)
		api.DELETE("/settings/credentials", s.handleRemoveCredentials)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// rateLimited returns middleware enforcing the auth limiter per client IP.
func (s *Server) rateLimited(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authLimiter.Allow(scope + ":" + c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("api server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }
