package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ryanbastic/go-pixelplace/internal/admission"
	"github.com/ryanbastic/go-pixelplace/internal/broadcast"
	"github.com/ryanbastic/go-pixelplace/internal/metrics"
	"github.com/ryanbastic/go-pixelplace/internal/ratelimit"
	"github.com/ryanbastic/go-pixelplace/internal/storage"
)

// ServerOptions carries the collaborators behind the HTTP surface.
// Hub, Subscribers, Backends and RateLimit are optional.
type ServerOptions struct {
	Gate        *admission.Gate
	Tracker     *admission.Tracker
	Pixels      storage.PixelStore
	Hub         *broadcast.Hub
	Subscribers *broadcast.SubscriberRegistry
	Backends    map[string]Pinger
	RateLimit   *ratelimit.Store

	// TrustedProxies may set X-Forwarded-For for rate limiting keys.
	TrustedProxies ratelimit.TrustedProxies
}

// NewServer creates an HTTP server with all routes configured.
func NewServer(logger *slog.Logger, opts ServerOptions) http.Handler {
	mux := chi.NewRouter()

	mux.Use(RequestID)
	mux.Use(Logging(logger))
	mux.Use(Recovery(logger))
	mux.Use(metrics.Metrics)
	if opts.RateLimit != nil {
		mux.Use(ratelimit.Middleware(ratelimit.Options{
			Store: opts.RateLimit,
			KeyFn: opts.TrustedProxies.KeyFunc(),
			Skip:  exemptFromRateLimit,
			OnReject: func(r *http.Request, key string) {
				metrics.RecordRateLimited(routeGroup(r.URL.Path))
				logger.Warn("request rate limited", "client", key, "path", r.URL.Path)
			},
		}))
	}

	health := NewHealthHandler(opts.Backends, logger)
	mux.Get("/v1/livez", health.Livez)
	mux.Get("/v1/readyz", health.Readyz)
	mux.Get("/v1/health", health.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	api := humachi.New(mux, huma.DefaultConfig("Pixelplace API", "1.0.0"))

	registerPixelRoutes(api, NewPixelHandler(opts.Gate, opts.Pixels, logger))
	registerCooldownRoutes(api, NewCooldownHandler(opts.Tracker, logger))
	if opts.Hub != nil {
		registerStreamRoutes(api, NewStreamHandler(opts.Hub, logger))
	}
	if opts.Subscribers != nil {
		registerSubscriberRoutes(api, NewSubscriberHandler(opts.Subscribers, logger))
	}

	return mux
}

// exemptFromRateLimit keeps probes, scrapes and long-lived streams out of the
// per-client budget.
func exemptFromRateLimit(r *http.Request) bool {
	switch r.URL.Path {
	case "/metrics", "/v1/livez", "/v1/readyz", "/v1/health", "/v1/pixels/stream":
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/docs") || strings.HasPrefix(r.URL.Path, "/openapi")
}

// routeGroup trims a path to its first two segments so per-cell URLs do not
// explode metric cardinality.
func routeGroup(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}
