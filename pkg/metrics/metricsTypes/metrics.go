package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
	Flush()
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Help   string
	Labels []string
}

var (
	Metric_Incr_JobsCompleted   = "jobs.completed"
	Metric_Incr_JobsFailed      = "jobs.failed"
	Metric_Incr_JobsRegistered  = "jobs.registered"
	Metric_Incr_LogsInserted    = "logs.inserted"
	Metric_Incr_LogsParseFailed = "logs.parseFailed"
	Metric_Incr_LogRangeSplit   = "logFetcher.range.split"
	Metric_Incr_MulticallFlush  = "multicall.flush"
	Metric_Incr_MulticallFailed = "multicall.call.failed"

	Metric_Gauge_UnfinishedJobs = "jobs.unfinished"

	Metric_Timing_ChunkDuration          = "chunk.duration"
	Metric_Timing_MulticallFlushDuration = "multicall.flush.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		{Name: Metric_Incr_JobsCompleted, Help: "Jobs whose logs were fetched up to their target block", Labels: []string{"chain"}},
		{Name: Metric_Incr_JobsFailed, Help: "Jobs marked failed after a sub-range could not be fetched", Labels: []string{"chain"}},
		{Name: Metric_Incr_JobsRegistered, Help: "Jobs inserted by the registrar", Labels: []string{"chain"}},
		{Name: Metric_Incr_LogsInserted, Help: "Parsed logs written to the log cache", Labels: []string{"chain"}},
		{Name: Metric_Incr_LogsParseFailed, Help: "Logs skipped because they could not be decoded", Labels: []string{"chain"}},
		{Name: Metric_Incr_LogRangeSplit, Help: "Block ranges bisected after a range too large response", Labels: []string{"chain", "depth"}},
		{Name: Metric_Incr_MulticallFlush, Help: "Multicall batches sent", Labels: []string{"chain"}},
		{Name: Metric_Incr_MulticallFailed, Help: "Queued calls that resolved with an error", Labels: []string{"chain", "reason"}},
	},
	MetricsType_Gauge: {
		{Name: Metric_Gauge_UnfinishedJobs, Help: "Jobs not yet completed or failed", Labels: []string{"chain"}},
	},
	MetricsType_Timing: {
		{Name: Metric_Timing_ChunkDuration, Help: "Time to fetch and store one chunk of a pool group", Labels: []string{"chain", "hasError"}},
		{Name: Metric_Timing_MulticallFlushDuration, Help: "Time to execute one multicall batch", Labels: []string{"chain", "hasError"}},
	},
}
