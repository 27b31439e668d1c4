package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/connectq/internal/company"
	"github.com/54b3r/connectq/internal/rag"
	"github.com/54b3r/connectq/internal/search"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full POST /api/embed-all-companies run.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on the embed and company mutation
	// routes. If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the HTTP metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// Outbox is woken after every company mutation. Optional.
	Outbox Waker
}

// Searcher is the orchestrator surface the handlers call.
// *search.Service satisfies it; tests inject a fake.
type Searcher interface {
	// Search answers a natural-language company query.
	Search(ctx context.Context, query string, topK int) search.SearchResult
	// EmbedSingle refreshes the vector of one company.
	EmbedSingle(ctx context.Context, id string) search.Result
	// EmbedAndStoreAll re-embeds every company.
	EmbedAndStoreAll(ctx context.Context) search.Result
	// Stats reports the vector index statistics.
	Stats(ctx context.Context) (rag.Stats, error)
}

// CompanyStore is the relational store behind the company routes.
// *store.SQLiteStore satisfies it.
type CompanyStore interface {
	CreateCompany(ctx context.Context, c company.Company) (company.Company, error)
	UpdateCompany(ctx context.Context, c company.Company) (company.Company, error)
	DeleteCompany(ctx context.Context, id string) error
	GetCompany(ctx context.Context, id string) (company.Company, error)
	ListCompanies(ctx context.Context) ([]company.Company, error)
}

// Waker is notified when the company table changes so pending outbox events
// are picked up without waiting for the next poll. *outbox.Consumer
// satisfies it.
type Waker interface {
	Wake()
}

// Server is the HTTP server exposing company search and indexing.
type Server struct {
	// svc is the search orchestrator.
	svc Searcher
	// runner executes embed jobs off the request goroutine.
	runner *search.Runner
	// companies is the relational store for the CRUD routes.
	companies CompanyStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped router, exposed to tests via ServeHTTP.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the HTTP Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// searchRequest is the JSON body for POST /api/search-companies.
type searchRequest struct {
	// Query is the natural-language search text.
	Query string `json:"query"`
	// TopK is the maximum number of matches. Nil selects search.DefaultTopK;
	// an explicit value, including 0, is validated as given.
	TopK *int `json:"topK,omitempty"`
}

// listCompaniesResponse is the JSON response for GET /api/companies.
type listCompaniesResponse struct {
	// Companies is every stored company, oldest first. Never null.
	Companies []company.Company `json:"companies"`
	// Count is len(Companies).
	Count int `json:"count"`
}

// errorResponse is the JSON body for every non-2xx response that has no
// richer result type.
type errorResponse struct {
	// Error is a client-safe description of the failure.
	Error string `json:"error"`
}
