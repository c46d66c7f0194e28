package obs

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricsServer wraps an HTTP server exposing the Prometheus registry,
// matching the metrics-listener pattern both teacher binaries use.
type MetricsServer struct {
	srv    *http.Server
	logger *zerolog.Logger
}

// NewMetricsServer builds (but does not start) a metrics HTTP server.
func NewMetricsServer(addr string, logger *zerolog.Logger) *MetricsServer {
	return &MetricsServer{
		srv:    &http.Server{Addr: addr, Handler: promhttp.Handler()},
		logger: logger,
	}
}

// Start runs the metrics server in the background until Shutdown is called.
func (m *MetricsServer) Start() {
	go func() {
		m.logger.Info().Str("address", m.srv.Addr).Msg("starting metrics server")
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.srv.Shutdown(shutdownCtx)
}
