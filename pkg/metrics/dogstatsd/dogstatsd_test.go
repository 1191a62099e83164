package dogstatsd

import (
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/defi-indexer/historic-cache/pkg/logger"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/stretchr/testify/assert"
)

type recordedPoint struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type recordingStatsd struct {
	statsd.NoOpClient
	points []recordedPoint
}

func (r *recordingStatsd) Count(name string, value int64, tags []string, rate float64) error {
	r.points = append(r.points, recordedPoint{kind: "count", name: name, value: float64(value), tags: tags})
	return nil
}

func (r *recordingStatsd) Gauge(name string, value float64, tags []string, rate float64) error {
	r.points = append(r.points, recordedPoint{kind: "gauge", name: name, value: value, tags: tags})
	return nil
}

func (r *recordingStatsd) Timing(name string, value time.Duration, tags []string, rate float64) error {
	r.points = append(r.points, recordedPoint{kind: "timing", name: name, value: float64(value.Milliseconds()), tags: tags})
	return nil
}

func Test_DogStatsdMetricsClient(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	rec := &recordingStatsd{}
	client := newDogStatsdMetricsClient(rec, 0, l)
	labels := []metricsTypes.MetricsLabel{{Name: "chain", Value: "1"}}

	t.Run("Should default the sample rate", func(t *testing.T) {
		assert.Equal(t, float64(1), client.sampleRate)
	})
	t.Run("Should format labels as tags", func(t *testing.T) {
		assert.Nil(t, client.Incr(metricsTypes.Metric_Incr_JobsCompleted, labels, 2))
		assert.Nil(t, client.Gauge(metricsTypes.Metric_Gauge_UnfinishedJobs, 5, labels))
		assert.Nil(t, client.Timing(metricsTypes.Metric_Timing_ChunkDuration, 3*time.Millisecond, labels))

		assert.Len(t, rec.points, 3)
		assert.Equal(t, recordedPoint{kind: "count", name: metricsTypes.Metric_Incr_JobsCompleted, value: 2, tags: []string{"chain:1"}}, rec.points[0])
		assert.Equal(t, "gauge", rec.points[1].kind)
		assert.Equal(t, float64(3), rec.points[2].value)
	})
}
