// Package server provides the HTTP server and routing for evotrader.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/evotrader/internal/di"
	evolutionhandlers "github.com/aristath/evotrader/internal/modules/evolution/handlers"
	portfoliohandlers "github.com/aristath/evotrader/internal/modules/portfolio/handlers"
	riskhandlers "github.com/aristath/evotrader/internal/modules/risk/handlers"
	tradinghandlers "github.com/aristath/evotrader/internal/modules/trading/handlers"
)

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Port         int
	DevMode      bool
	DataDir      string
	PriceTimeout time.Duration
	Container    *di.Container    // DI container with all services
	Jobs         *di.JobInstances // Jobs that can be triggered manually
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	container      *di.Container
	systemHandlers *SystemHandlers
	started        time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		container: cfg.Container,
		started:   time.Now(),
	}

	jobs := map[string]jobRunner{}
	if cfg.Jobs != nil {
		for name, job := range cfg.Jobs.All() {
			jobs[name] = job
		}
	}
	s.systemHandlers = NewSystemHandlers(
		cfg.Log,
		cfg.DataDir,
		cfg.Container.Databases(),
		cfg.Container.Engine,
		cfg.Container.PortfolioService,
		cfg.Container.Scheduler,
		jobs,
	)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	// Long-lived event streams are mounted outside the timeout and compression middleware
	eventsHandler := NewEventsStreamHandler(s.container.EventBus, s.log)
	s.router.Get("/api/events/stream", eventsHandler.ServeHTTP)
	s.router.Get("/api/events/ws", eventsHandler.ServeWebSocket)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if !s.cfg.DevMode {
			r.Use(middleware.Compress(5))
		}

		r.Get("/health", s.handleHealth)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
			r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
			r.Post("/jobs/{name}", s.systemHandlers.HandleTriggerJob)
		})

		portfoliohandlers.NewHandler(
			s.container.PortfolioService,
			s.container.PriceSource,
			s.cfg.PriceTimeout,
			s.log,
		).RegisterRoutes(r)

		evolutionhandlers.NewHandler(
			s.container.Engine,
			s.container.EvolutionStore,
			s.container.DeploymentBridge,
			s.log,
		).RegisterRoutes(r)

		riskhandlers.NewHandler(
			s.container.RiskGate,
			s.container.PortfolioService,
			s.container.PriceSource,
			s.cfg.PriceTimeout,
			s.log,
		).RegisterRoutes(r)

		tradinghandlers.NewTradingHandlers(s.container.LiveTrader, s.log).RegisterRoutes(r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
