package dogstatsd

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"go.uber.org/zap"
)

type DogStatsdMetricsClient struct {
	client     statsd.ClientInterface
	sampleRate float64
	logger     *zap.Logger
}

// NewDogStatsdMetricsClient dials the DataDog agent. A zero sample rate sends every point.
func NewDogStatsdMetricsClient(addr string, sampleRate float64, l *zap.Logger) (*DogStatsdMetricsClient, error) {
	client, err := statsd.New(addr, statsd.WithNamespace("historic_cache."))
	if err != nil {
		return nil, fmt.Errorf("failed to create statsd client: %w", err)
	}
	return newDogStatsdMetricsClient(client, sampleRate, l), nil
}

func newDogStatsdMetricsClient(client statsd.ClientInterface, sampleRate float64, l *zap.Logger) *DogStatsdMetricsClient {
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}
	return &DogStatsdMetricsClient{
		client:     client,
		sampleRate: sampleRate,
		logger:     l,
	}
}

func formatTags(labels []metricsTypes.MetricsLabel) []string {
	tags := make([]string, 0, len(labels))
	for _, label := range labels {
		tags = append(tags, fmt.Sprintf("%s:%s", label.Name, label.Value))
	}
	return tags
}

func (dd *DogStatsdMetricsClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	return dd.client.Count(name, int64(value), formatTags(labels), dd.sampleRate)
}

func (dd *DogStatsdMetricsClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	return dd.client.Gauge(name, value, formatTags(labels), dd.sampleRate)
}

func (dd *DogStatsdMetricsClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	return dd.client.Timing(name, value, formatTags(labels), dd.sampleRate)
}

func (dd *DogStatsdMetricsClient) Flush() {
	if err := dd.client.Flush(); err != nil {
		dd.logger.Sugar().Warnw("Failed to flush statsd client", zap.Error(err))
	}
}
