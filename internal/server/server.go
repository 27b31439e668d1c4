// Package server implements the HTTP API in front of the company search
// orchestrator: semantic search, on-demand re-embedding, index stats, and the
// company CRUD routes whose writes feed the outbox consumer.
// The server is started by the `connectq serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/connectq/internal/logging"
	"github.com/54b3r/connectq/internal/search"
)

// New constructs a Server from the orchestrator, the runner that executes
// embed jobs, and the company store.
func New(svc Searcher, runner *search.Runner, companies CompanyStore, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: search service must not be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("server: runner must not be nil")
	}
	if companies == nil {
		return nil, fmt.Errorf("server: company store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		svc:       svc,
		runner:    runner,
		companies: companies,
		cfg:       cfg,
		log:       log,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: CONNECTQ_API_KEY not set, embed and company mutation routes are unauthenticated")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal)
	s.stopRL = stopRL
	s.handler = s.routes(rl)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the chi router. Probes and /metrics sit outside the rate
// limiter; embed and company mutation routes additionally require the API key.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	auth := func(next http.Handler) http.Handler { return authMiddleware(s.cfg.APIKey, next) }

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return requestLogger(s.log, next) })
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.instrument)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(rl.middleware)

		r.Post("/api/search-companies", s.handleSearch)
		r.Get("/api/index/stats", s.handleIndexStats)
		r.Get("/api/companies", s.handleListCompanies)
		r.Get("/api/companies/{companyId}", s.handleGetCompany)

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Post("/api/embed-company/{companyId}", s.handleEmbedCompany)
			r.Post("/api/embed-all-companies", s.handleEmbedAll)
			r.Post("/api/companies", s.handleCreateCompany)
			r.Put("/api/companies/{companyId}", s.handleUpdateCompany)
			r.Delete("/api/companies/{companyId}", s.handleDeleteCompany)
		})
	})

	return r
}

// ServeHTTP dispatches to the router. It lets tests drive the full
// middleware chain without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.log.Info("server: shutting down")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
