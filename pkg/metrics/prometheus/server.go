package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type PrometheusServerConfig struct {
	Port int
}

type PrometheusServer struct {
	config *PrometheusServerConfig
	logger *zap.Logger
	server *http.Server
}

func NewPrometheusServer(cfg *PrometheusServerConfig, l *zap.Logger) *PrometheusServer {
	return &PrometheusServer{
		config: cfg,
		logger: l,
	}
}

// Start serves /metrics in the background until a value is sent on shutdown.
func (ps *PrometheusServer) Start(shutdown chan bool) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	ps.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", ps.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		ps.logger.Sugar().Infow("Starting prometheus server", zap.Int("port", ps.config.Port))
		if err := ps.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ps.logger.Sugar().Errorw("Prometheus server failed", zap.Error(err))
		}
	}()

	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ps.logger.Sugar().Infow("Shutting down prometheus server")
		if err := ps.server.Shutdown(ctx); err != nil {
			ps.logger.Sugar().Errorw("Failed to shutdown prometheus server", zap.Error(err))
		}
	}()
	return nil
}
