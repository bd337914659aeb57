// Package api exposes the operational HTTP server of the scanning service:
// Prometheus metrics, health checks and pprof, wrapped with the shared
// CORS and logging middlewares.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"urlrisk/internal/config"
	"urlrisk/pkg/controller"
)

// Options holds configuration for the HTTP server.
// All durations configure server timeouts; zero values fall back to the
// net/http defaults where applicable.
type Options struct {
	// Addr is the TCP address the server listens on, e.g. ":8080".
	Addr string
	// ReadTimeout is the maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration
	// ReadHeaderTimeout is the amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration
	// RequestTimeout is the global timeout applied via http.TimeoutHandler for handling requests.
	RequestTimeout time.Duration
	// MaxHeaderBytes controls the maximum number of bytes the server
	// will read parsing the request header's keys and values, including the request line.
	MaxHeaderBytes int
	// MetricsPath is the HTTP path at which Prometheus metrics are served.
	MetricsPath string
}

// NewOptions constructs an Options value from the provided application configuration.
func NewOptions(cfg *config.Config) Options {
	return Options{
		Addr:              cfg.HTTP.Addr,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		RequestTimeout:    cfg.HTTP.RequestTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
		MetricsPath:       cfg.HTTP.MetricsPath,
	}
}

// NewServer wires up and returns a configured *http.Server using the provided Options.
// It sets up:
// - Prometheus metrics endpoint (MetricsPath)
// - a liveness endpoint at /healthz
// - pprof endpoints for profiling
// It also wraps the mux with CORS and logging middlewares and applies a request timeout.
func NewServer(opts Options) *http.Server {
	mux := http.NewServeMux()

	// prometheus metrics server
	mux.Handle(opts.MetricsPath, promhttp.Handler())

	// liveness
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// pprof
	mux.Handle("/debug/pprof/", controller.PprofMux())

	// cors
	handler := controller.WithCORS(mux)

	// logger
	handler = controller.WithLogger(handler)

	return &http.Server{
		Addr:              opts.Addr,
		Handler:           http.TimeoutHandler(handler, opts.RequestTimeout, `{"error":"request timed out"}`),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
		MaxHeaderBytes:    opts.MaxHeaderBytes,
	}
}
