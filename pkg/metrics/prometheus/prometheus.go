package prometheus

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/defi-indexer/historic-cache/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "historic_cache"

// timing buckets in milliseconds, from a 10ms multicall flush up to a ~10 minute chunk
var timingBuckets = prometheus.ExponentialBuckets(10, 2.5, 11)

type PrometheusMetricsConfig struct {
	Metrics map[metricsTypes.MetricsType][]metricsTypes.MetricsTypeConfig
	// Registerer defaults to the global prometheus registry.
	Registerer prometheus.Registerer
}

type registeredMetric struct {
	kind   metricsTypes.MetricsType
	labels []string

	counter   *prometheus.CounterVec
	gauge     *prometheus.GaugeVec
	histogram *prometheus.HistogramVec
}

type PrometheusMetricsClient struct {
	logger  *zap.Logger
	metrics map[string]*registeredMetric
}

func NewPrometheusMetricsClient(config *PrometheusMetricsConfig, l *zap.Logger) (*PrometheusMetricsClient, error) {
	registerer := config.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	client := &PrometheusMetricsClient{
		logger:  l,
		metrics: make(map[string]*registeredMetric),
	}
	for kind, configs := range config.Metrics {
		for _, mc := range configs {
			if err := client.register(registerer, kind, mc); err != nil {
				return nil, err
			}
		}
	}
	return client, nil
}

// prometheus doesn't allow dots in metric names
func formatMetricName(name string) string {
	return utils.SnakeCase(name)
}

func (pmc *PrometheusMetricsClient) register(registerer prometheus.Registerer, kind metricsTypes.MetricsType, mc metricsTypes.MetricsTypeConfig) error {
	if existing, ok := pmc.metrics[mc.Name]; ok {
		pmc.logger.Sugar().Warnw("Prometheus metric already registered",
			zap.String("name", mc.Name),
			zap.String("existingType", string(existing.kind)),
			zap.String("type", string(kind)),
		)
		return nil
	}

	name := formatMetricName(mc.Name)
	help := mc.Help
	if help == "" {
		help = mc.Name
	}

	m := &registeredMetric{kind: kind, labels: mc.Labels}
	var collector prometheus.Collector
	switch kind {
	case metricsTypes.MetricsType_Incr:
		m.counter = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, mc.Labels)
		collector = m.counter
	case metricsTypes.MetricsType_Gauge:
		m.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, mc.Labels)
		collector = m.gauge
	case metricsTypes.MetricsType_Timing:
		m.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name + "_ms",
			Help:      help,
			Buckets:   timingBuckets,
		}, mc.Labels)
		collector = m.histogram
	default:
		return fmt.Errorf("unsupported prometheus metric type '%s' for '%s'", kind, mc.Name)
	}

	if err := registerer.Register(collector); err != nil {
		return fmt.Errorf("failed to register prometheus metric '%s': %w", mc.Name, err)
	}
	pmc.metrics[mc.Name] = m
	return nil
}

// lookup returns the metric registered under name with the given type, or nil.
func (pmc *PrometheusMetricsClient) lookup(kind metricsTypes.MetricsType, name string) *registeredMetric {
	m, ok := pmc.metrics[name]
	if !ok || m.kind != kind {
		pmc.logger.Sugar().Debugw("Prometheus metric not registered",
			zap.String("type", string(kind)),
			zap.String("name", name),
		)
		return nil
	}
	return m
}

// resolveLabels maps the provided labels onto the metric's declared label set.
// Declared labels that were not provided are reported as empty strings.
func (m *registeredMetric) resolveLabels(provided []metricsTypes.MetricsLabel) (prometheus.Labels, error) {
	resolved := make(prometheus.Labels, len(m.labels))
	for _, name := range m.labels {
		resolved[name] = ""
	}

	unexpected := make([]string, 0)
	for _, label := range provided {
		if !slices.Contains(m.labels, label.Name) {
			unexpected = append(unexpected, label.Name)
			continue
		}
		resolved[label.Name] = label.Value
	}
	if len(unexpected) > 0 {
		return nil, fmt.Errorf("unexpected labels: '%s'", strings.Join(unexpected, ", "))
	}
	return resolved, nil
}

func (pmc *PrometheusMetricsClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	m := pmc.lookup(metricsTypes.MetricsType_Incr, name)
	if m == nil {
		return nil
	}
	resolved, err := m.resolveLabels(labels)
	if err != nil {
		return err
	}
	m.counter.With(resolved).Add(value)
	return nil
}

func (pmc *PrometheusMetricsClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	m := pmc.lookup(metricsTypes.MetricsType_Gauge, name)
	if m == nil {
		return nil
	}
	resolved, err := m.resolveLabels(labels)
	if err != nil {
		return err
	}
	m.gauge.With(resolved).Set(value)
	return nil
}

func (pmc *PrometheusMetricsClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	m := pmc.lookup(metricsTypes.MetricsType_Timing, name)
	if m == nil {
		return nil
	}
	resolved, err := m.resolveLabels(labels)
	if err != nil {
		return err
	}
	m.histogram.With(resolved).Observe(float64(value.Milliseconds()))
	return nil
}

// Flush is a no-op, prometheus is scraped.
func (pmc *PrometheusMetricsClient) Flush() {}
