package server

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apihandlers "github.com/terraconnect/terra-connect/backend/server/handlers"
	"github.com/terraconnect/terra-connect/backend/server/middleware"
)

// Options configures the router around the API handlers.
type Options struct {
	// RateLimiter throttles each client. Nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
	// MetricsUser and MetricsPass protect /metrics. An empty user hides it.
	MetricsUser string
	MetricsPass string
}

// NewRouter wires every endpoint, the /metrics endpoint and the middleware chain.
func NewRouter(h *apihandlers.Handler, opts Options) http.Handler {
	r := mux.NewRouter()

	// Each router gets its own registry.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := middleware.NewMetrics(reg)

	r.Use(metrics.Middleware)
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Middleware)
	}

	r.Handle("/metrics", middleware.BasicAuth(
		opts.MetricsUser,
		opts.MetricsPass,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)).Methods(http.MethodGet)
	h.RegisterRoutes(r)

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PATCH", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(middleware.Recovery(r))

	return handlers.LoggingHandler(os.Stdout, corsRouter)
}

// New builds the HTTP server listening on addr.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
