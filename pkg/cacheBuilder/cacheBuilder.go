// Package cacheBuilder runs the per-chain service loop that backfills the user address cache:
// select a group of jobs, fetch and parse their logs, write the results and record the outcome.
package cacheBuilder

import (
	"context"
	"iter"
	"strconv"
	"sync"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/eventParser"
	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/defi-indexer/historic-cache/pkg/logFetcher"
	"github.com/defi-indexer/historic-cache/pkg/metrics"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/defi-indexer/historic-cache/pkg/scheduler"
	"github.com/defi-indexer/historic-cache/pkg/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

type State string

const (
	State_Idle      State = "idle"
	State_Selecting State = "selecting"
	State_Fetching  State = "fetching"
	State_Completed State = "completed"
	State_Failed    State = "failed"
)

type LogsFetcher interface {
	FetchAllLogs(ctx context.Context, req *logFetcher.FetchRequest) iter.Seq2[*logFetcher.LogBatch, error]
}

type CacheBuilderConfig struct {
	// PollInterval is how long to wait when there is no work
	PollInterval time.Duration
	// GroupDelay is how long to wait between groups
	GroupDelay time.Duration
	// SubRangeCount is the number of concurrent fetchers per chunk
	SubRangeCount int
}

func CacheBuilderConfigFromConfig(cfg *config.Config, chain config.Chain) *CacheBuilderConfig {
	return &CacheBuilderConfig{
		PollInterval:  cfg.CacheBuilderConfig.PollInterval,
		GroupDelay:    cfg.CacheBuilderConfig.GroupDelay,
		SubRangeCount: config.GetLogSubRangeCount(chain),
	}
}

type CacheBuilder struct {
	chain   config.Chain
	config  *CacheBuilderConfig
	store   jobStore.JobStore
	fetcher LogsFetcher
	parser  *eventParser.Parser
	metrics *metrics.MetricsSink
	logger  *zap.Logger

	stateMu sync.RWMutex
	state   State
}

func NewCacheBuilder(
	chain config.Chain,
	cfg *CacheBuilderConfig,
	store jobStore.JobStore,
	fetcher LogsFetcher,
	parser *eventParser.Parser,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *CacheBuilder {
	return &CacheBuilder{
		chain:   chain,
		config:  cfg,
		store:   store,
		fetcher: fetcher,
		parser:  parser,
		metrics: ms,
		logger:  l.With(zap.Uint64("chainId", uint64(chain))),
		state:   State_Idle,
	}
}

func (cb *CacheBuilder) State() State {
	cb.stateMu.RLock()
	defer cb.stateMu.RUnlock()
	return cb.state
}

func (cb *CacheBuilder) setState(s State) {
	cb.stateMu.Lock()
	prev := cb.state
	cb.state = s
	cb.stateMu.Unlock()
	cb.logger.Sugar().Debugw("Cache builder state change", zap.String("from", string(prev)), zap.String("to", string(s)))
}

func (cb *CacheBuilder) chainLabels(extra ...metricsTypes.MetricsLabel) []metricsTypes.MetricsLabel {
	return append([]metricsTypes.MetricsLabel{{Name: "chain", Value: cb.chain.Id()}}, extra...)
}

// SplitBlockRange splits [from, to] into at most n disjoint, contiguous ranges whose sizes differ by
// at most one block, giving the extra blocks to the earliest ranges.
func SplitBlockRange(from uint64, to uint64, n int) []logFetcher.BlockRange {
	if to < from {
		return []logFetcher.BlockRange{}
	}
	total := to - from + 1
	if n < 1 {
		n = 1
	}
	if uint64(n) > total {
		n = int(total)
	}

	size := total / uint64(n)
	remainder := total % uint64(n)

	ranges := make([]logFetcher.BlockRange, 0, n)
	start := from
	for i := uint64(0); i < uint64(n); i++ {
		end := start + size - 1
		if i < remainder {
			end++
		}
		ranges = append(ranges, logFetcher.BlockRange{From: start, To: end})
		start = end + 1
	}
	return ranges
}

// Start runs the loop until ctx is cancelled. A failure is logged and the loop carries on after the
// poll interval.
func (cb *CacheBuilder) Start(ctx context.Context) {
	cb.logger.Sugar().Infow("Starting cache builder",
		zap.Duration("pollInterval", cb.config.PollInterval),
		zap.Duration("groupDelay", cb.config.GroupDelay),
		zap.Int("subRangeCount", cb.config.SubRangeCount),
	)
	for {
		processed, err := cb.ProcessNextGroup(ctx)
		if ctx.Err() != nil {
			cb.logger.Sugar().Infow("Shutting down cache builder")
			return
		}

		delay := cb.config.GroupDelay
		if err != nil {
			cb.logger.Sugar().Errorw("Failed to process next group", zap.Error(err))
			delay = cb.config.PollInterval
		} else if !processed {
			cb.logger.Sugar().Infow("No unfinished jobs, waiting", zap.Duration("pollInterval", cb.config.PollInterval))
			delay = cb.config.PollInterval
		}

		select {
		case <-ctx.Done():
			cb.logger.Sugar().Infow("Shutting down cache builder")
			return
		case <-time.After(delay):
		}
	}
}

// ProcessNextGroup processes one group of jobs chunk by chunk. It returns false when there was nothing to do.
// A failed chunk is recorded on its jobs and does not stop the remaining chunks.
func (cb *CacheBuilder) ProcessNextGroup(ctx context.Context) (bool, error) {
	defer cb.setState(State_Idle)
	cb.setState(State_Selecting)

	jobs, err := cb.store.GetUnfinishedJobs()
	if err != nil {
		return false, errors.Wrap(err, "failed to get unfinished jobs")
	}
	cb.metrics.Gauge(metricsTypes.Metric_Gauge_UnfinishedJobs, float64(len(jobs)), cb.chainLabels())

	group := scheduler.GetNextPoolGroup(jobs, cb.chain)
	if group == nil {
		return false, nil
	}

	chunks := utils.ChunkSlice(group.ContractAddresses, group.BatchSize)
	cb.logger.Sugar().Infow("Processing pool group",
		zap.String("topic0", group.Topic0),
		zap.Int("userAddressIndex", group.UserAddressIndex),
		zap.Int("contracts", len(group.ContractAddresses)),
		zap.Int("batchSize", group.BatchSize),
		zap.Int("chunks", len(chunks)),
		zap.Uint64("targetBlockNumber", group.TargetBlockNumber),
		zap.Bool("retryingFailed", group.Failed),
	)

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if err := cb.processChunk(ctx, group, chunk); err != nil {
			cb.logger.Sugar().Errorw("Chunk failed, continuing with next chunk",
				zap.Int("chunk", i+1),
				zap.Int("chunks", len(chunks)),
				zap.Error(err),
			)
		}
	}
	return true, nil
}

func (cb *CacheBuilder) processChunk(ctx context.Context, group *scheduler.PoolGroup, contractAddresses []string) error {
	span, ctx := ddTracer.StartSpanFromContext(ctx, "cacheBuilder.processChunk")
	span.SetTag("chain_id", uint64(cb.chain))
	span.SetTag("topic_0", group.Topic0)
	span.SetTag("contracts", len(contractAddresses))
	span.SetTag("target_block_number", group.TargetBlockNumber)
	defer span.Finish()

	startTime := time.Now()
	hasError := false
	defer func() {
		cb.metrics.Timing(metricsTypes.Metric_Timing_ChunkDuration, time.Since(startTime), cb.chainLabels(
			metricsTypes.MetricsLabel{Name: "hasError", Value: strconv.FormatBool(hasError)},
		))
		span.SetTag("duration_ms", time.Since(startTime).Milliseconds())
		span.SetTag("has_error", hasError)
	}()

	cb.setState(State_Fetching)

	addresses := utils.Map(contractAddresses, func(a string, i uint64) common.Address {
		return common.HexToAddress(a)
	})
	opts := &eventParser.ParseOptions{
		EventAbi:                    group.EventAbi,
		UserAddressIndex:            group.UserAddressIndex,
		AdditionalMetadataArguments: group.AdditionalMetadataArguments,
		TransformUserAddressType:    group.TransformUserAddressType,
	}

	// sub-ranges share no cancellation so each runs to completion or failure
	var g errgroup.Group
	for _, r := range SplitBlockRange(0, group.TargetBlockNumber, cb.config.SubRangeCount) {
		req := &logFetcher.FetchRequest{
			ContractAddresses: addresses,
			Topic0:            common.HexToHash(group.Topic0),
			FromBlock:         r.From,
			ToBlock:           r.To,
		}
		g.Go(func() error {
			return cb.processSubRange(ctx, req, opts)
		})
	}
	fetchErr := g.Wait()

	if fetchErr != nil {
		hasError = true
		span.SetTag("error", true)
		span.SetTag("error.message", fetchErr.Error())
		cb.setState(State_Failed)

		cb.logger.Sugar().Errorw("Failed to fetch logs for chunk",
			zap.Strings("contractAddresses", contractAddresses),
			zap.String("topic0", group.Topic0),
			zap.Int("userAddressIndex", group.UserAddressIndex),
			zap.Uint64("targetBlockNumber", group.TargetBlockNumber),
			zap.Error(fetchErr),
		)
		if err := cb.store.UpdateJobStatus(contractAddresses, group.Topic0, group.UserAddressIndex, jobStore.JobStatus_Failed); err != nil {
			return errors.Wrap(err, "failed to mark jobs as failed")
		}
		cb.metrics.Incr(metricsTypes.Metric_Incr_JobsFailed, cb.chainLabels(), float64(len(contractAddresses)))
		return fetchErr
	}

	if err := cb.store.UpdateJobStatus(contractAddresses, group.Topic0, group.UserAddressIndex, jobStore.JobStatus_Completed); err != nil {
		hasError = true
		return errors.Wrap(err, "failed to mark jobs as completed")
	}
	if err := cb.store.SetLatestBlockProcessed(group.TargetBlockNumber); err != nil {
		cb.logger.Sugar().Errorw("Failed to record latest block processed", zap.Error(err))
	}
	cb.metrics.Incr(metricsTypes.Metric_Incr_JobsCompleted, cb.chainLabels(), float64(len(contractAddresses)))
	cb.setState(State_Completed)

	cb.logger.Sugar().Infow("Completed chunk",
		zap.Int("contracts", len(contractAddresses)),
		zap.String("topic0", group.Topic0),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}

// processSubRange drains one fetcher and writes everything it parsed in a single insert.
func (cb *CacheBuilder) processSubRange(ctx context.Context, req *logFetcher.FetchRequest, opts *eventParser.ParseOptions) error {
	rows := make([]*jobStore.Log, 0)
	for batch, err := range cb.fetcher.FetchAllLogs(ctx, req) {
		if err != nil {
			return err
		}
		parsed, failed := cb.parser.ParseLogs(batch.Logs, opts)
		if failed > 0 {
			cb.metrics.Incr(metricsTypes.Metric_Incr_LogsParseFailed, cb.chainLabels(), float64(failed))
		}
		rows = append(rows, parsed...)
	}

	inserted, err := cb.store.InsertLogs(rows)
	if err != nil {
		return errors.Wrapf(err, "failed to insert logs for blocks [%d, %d]", req.FromBlock, req.ToBlock)
	}
	cb.metrics.Incr(metricsTypes.Metric_Incr_LogsInserted, cb.chainLabels(), float64(inserted))
	cb.logger.Sugar().Debugw("Processed sub-range",
		zap.Uint64("fromBlock", req.FromBlock),
		zap.Uint64("toBlock", req.ToBlock),
		zap.Int("rows", len(rows)),
		zap.Int64("inserted", inserted),
	)
	return nil
}
