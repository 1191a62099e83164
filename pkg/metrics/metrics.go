package metrics

import (
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/metrics/dogstatsd"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/defi-indexer/historic-cache/pkg/metrics/prometheus"
	"go.uber.org/zap"
)

type MetricsSinkConfig struct {
	DefaultLabels []metricsTypes.MetricsLabel
}

// MetricsSink fans every metric out to all configured clients.
type MetricsSink struct {
	config  *MetricsSinkConfig
	clients []metricsTypes.IMetricsClient
}

func NewMetricsSink(cfg *MetricsSinkConfig, clients []metricsTypes.IMetricsClient) (*MetricsSink, error) {
	return &MetricsSink{
		config:  cfg,
		clients: clients,
	}, nil
}

// InitMetricsSinksFromConfig creates a client for every metrics backend enabled in the config.
func InitMetricsSinksFromConfig(cfg *config.Config, l *zap.Logger) ([]metricsTypes.IMetricsClient, error) {
	clients := make([]metricsTypes.IMetricsClient, 0)

	if cfg.DataDogConfig.StatsdConfig.Enabled {
		dd, err := dogstatsd.NewDogStatsdMetricsClient(cfg.DataDogConfig.StatsdConfig.Url, cfg.DataDogConfig.StatsdConfig.SampleRate, l)
		if err != nil {
			l.Sugar().Errorw("Failed to create statsd client", zap.Error(err))
			return nil, err
		}
		clients = append(clients, dd)
	}

	if cfg.PrometheusConfig.Enabled {
		pc, err := prometheus.NewPrometheusMetricsClient(&prometheus.PrometheusMetricsConfig{
			Metrics: metricsTypes.MetricTypes,
		}, l)
		if err != nil {
			l.Sugar().Errorw("Failed to create prometheus client", zap.Error(err))
			return nil, err
		}
		clients = append(clients, pc)
	}

	return clients, nil
}

func (ms *MetricsSink) withDefaultLabels(labels []metricsTypes.MetricsLabel) []metricsTypes.MetricsLabel {
	if len(ms.config.DefaultLabels) == 0 {
		return labels
	}
	return append(append([]metricsTypes.MetricsLabel{}, ms.config.DefaultLabels...), labels...)
}

func (ms *MetricsSink) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) {
	for _, client := range ms.clients {
		_ = client.Incr(name, ms.withDefaultLabels(labels), value)
	}
}

func (ms *MetricsSink) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) {
	for _, client := range ms.clients {
		_ = client.Gauge(name, value, ms.withDefaultLabels(labels))
	}
}

func (ms *MetricsSink) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) {
	for _, client := range ms.clients {
		_ = client.Timing(name, value, ms.withDefaultLabels(labels))
	}
}

func (ms *MetricsSink) Flush() {
	for _, client := range ms.clients {
		client.Flush()
	}
}
