package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/matheus3301/chatlog/internal/metrics"
	"go.uber.org/zap"
)

// MetricsServer exposes Prometheus metrics over HTTP. It is inert when no
// address is configured.
type MetricsServer struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates the metrics endpoint for the configured address.
func NewMetricsServer(p Params, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	ms := &MetricsServer{logger: logger}
	if p.Config == nil || p.Config.Metrics.Addr == "" {
		return ms
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	ms.srv = &http.Server{
		Addr:              p.Config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ms
}

// Start serves metrics in the background.
func (s *MetricsServer) Start() {
	if s.srv == nil {
		return
	}
	s.logger.Info("metrics server starting", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

func (s *MetricsServer) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
