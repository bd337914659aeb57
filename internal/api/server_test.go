package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"urlrisk/internal/api"
	"urlrisk/internal/config"
	"urlrisk/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Setup(logger.DevelopmentEnvironment)
	m.Run()
}

func testOptions() api.Options {
	return api.Options{
		Addr:           ":0",
		RequestTimeout: 5 * time.Second,
		MetricsPath:    "/metrics",
	}
}

func TestNewOptions_MapsHTTPConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.HTTP.Addr = ":9090"
	cfg.HTTP.ReadTimeout = time.Minute
	cfg.HTTP.ReadHeaderTimeout = 10 * time.Second
	cfg.HTTP.WriteTimeout = 2 * time.Minute
	cfg.HTTP.IdleTimeout = 2 * time.Minute
	cfg.HTTP.RequestTimeout = 7 * time.Second
	cfg.HTTP.MaxHeaderBytes = 1 << 20
	cfg.HTTP.MetricsPath = "/metrics"

	opts := api.NewOptions(cfg)
	require.Equal(t, ":9090", opts.Addr)
	require.Equal(t, time.Minute, opts.ReadTimeout)
	require.Equal(t, 10*time.Second, opts.ReadHeaderTimeout)
	require.Equal(t, 2*time.Minute, opts.WriteTimeout)
	require.Equal(t, 2*time.Minute, opts.IdleTimeout)
	require.Equal(t, 7*time.Second, opts.RequestTimeout)
	require.Equal(t, 1<<20, opts.MaxHeaderBytes)
	require.Equal(t, "/metrics", opts.MetricsPath)
}

func TestNewServer_Healthz(t *testing.T) {
	server := api.NewServer(testOptions())

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNewServer_MetricsExposed(t *testing.T) {
	server := api.NewServer(testOptions())

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}
