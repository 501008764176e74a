// Package server exposes the readings over HTTP.
//
// Architecture:
//   - CSV routes stream through export.Exporter with chunked responses
//   - Image routes materialize streams through render.Renderer
//   - Middleware chain: request id, rate limit, logging, metrics, then the
//     PNG cache on image routes only
//   - Caller errors map to 400, everything else to 500, as JSON
//
// A CSV export failing after its header was sent aborts the connection, so
// the client sees a truncated transfer instead of a complete file.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/domotik/internal/config"
	"github.com/tejusbharadwaj/domotik/internal/export"
	"github.com/tejusbharadwaj/domotik/internal/render"
	middleware "github.com/tejusbharadwaj/domotik/internal/server/middlewares"
	"github.com/tejusbharadwaj/domotik/internal/stream"
	"github.com/tejusbharadwaj/domotik/internal/window"
)

// ServerConfig holds configuration options for the HTTP server
type ServerConfig struct {
	CacheSize      int           // Number of rendered charts kept in memory
	RateLimit      float64       // Requests per second, 0 disables limiting
	RateLimitBurst int           // Maximum burst size for rate limiting
	DefaultSpan    time.Duration // Chart window when start is absent
	EventSpan      time.Duration // Window of /onoff/json when start is absent
	Location       *time.Location
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		CacheSize:      128,
		RateLimit:      5.0, // 5 requests per second
		RateLimitBurst: 10,  // Burst of 10 requests
		DefaultSpan:    48 * time.Hour,
		EventSpan:      4 * 7 * 24 * time.Hour,
		Location:       time.Local,
	}
}

// Services are the components the handlers delegate to.
type Services struct {
	Source   *stream.Source
	Exporter *export.Exporter
	Renderer *render.Renderer
	Devices  *config.Registry
	Resolver *window.Resolver
}

// Server routes HTTP requests to the services.
type Server struct {
	cfg      ServerConfig
	svc      Services
	mux      *http.ServeMux
	handler  http.Handler
	registry *prometheus.Registry
	logger   *logrus.Entry
	now      func() time.Time
}

// NewServer creates a server with all routes registered. Its metrics, and
// any collector already in registry, are served on /metrics.
func NewServer(svc Services, cfg ServerConfig, registry *prometheus.Registry, logger *logrus.Entry) (*Server, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if svc.Resolver == nil {
		svc.Resolver = window.NewResolver(false)
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:      cfg,
		svc:      svc,
		mux:      http.NewServeMux(),
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
	cache, err := middleware.NewCache(cfg.CacheSize, func() time.Time { return s.now() })
	if err != nil {
		return nil, err
	}
	if err := registry.Register(middleware.Requests); err != nil && !isAlreadyRegistered(err) {
		return nil, err
	}
	if err := registry.Register(middleware.Latency); err != nil && !isAlreadyRegistered(err) {
		return nil, err
	}

	s.routes(cache)
	s.handler = middleware.Chain(s.mux,
		middleware.ContextMiddleware, // Add request ID first
		middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst).Middleware, // Rate limit early
		middleware.NewLoggingMiddleware(logger),                                 // Log all requests (with request ID)
		middleware.CORS,
	)
	return s, nil
}

func (s *Server) routes(cache *middleware.Cache) {
	metrics := middleware.NewMetricsMiddleware(middleware.Requests, middleware.Latency)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	apiRoutes := []struct {
		pattern string
		handler http.Handler
	}{
		{"GET /datetime", http.HandlerFunc(s.handleDatetime)},
		{"GET /devices", http.HandlerFunc(s.handleDevices)},
		{"GET /linky/csv", http.HandlerFunc(s.handleLinkyCSV)},
		{"GET /onoff/csv", http.HandlerFunc(s.handleOnOffCSV)},
		{"GET /onoff/json", http.HandlerFunc(s.handleOnOffJSON)},
		{"GET /pressure/csv", http.HandlerFunc(s.handlePressureCSV)},
		{"GET /temperature_humidity/csv", http.HandlerFunc(s.handleTemperatureHumidityCSV)},
		{"GET /linky/image", cache.Middleware(http.HandlerFunc(s.handleLinkyImage))},
		{"GET /pressure/image", cache.Middleware(http.HandlerFunc(s.handlePressureImage))},
		{"GET /overview/image", cache.Middleware(http.HandlerFunc(s.handleOverviewImage))},
		{"GET /temperature_humidity/image/{name}", cache.Middleware(http.HandlerFunc(s.handleTemperatureHumidityImage))},
	}
	for _, route := range apiRoutes {
		s.mux.Handle(route.pattern, metrics(route.handler))
	}
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen serves on addr until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Listen(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
