package logFetcher

import (
	"context"
	"iter"
	"math/big"
	"strconv"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/metrics"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/defi-indexer/historic-cache/pkg/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LogFilterer is the eth_getLogs capability of the node client.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type FetchRequest struct {
	ContractAddresses []common.Address
	Topic0            common.Hash
	FromBlock         uint64
	ToBlock           uint64
}

type BlockRange struct {
	From  uint64
	To    uint64
	Depth int
}

// LogBatch is the result of one successful eth_getLogs over [FromBlock, ToBlock].
type LogBatch struct {
	FromBlock uint64
	ToBlock   uint64
	Depth     int
	Logs      []types.Log
}

type LogFetcher struct {
	chain   config.Chain
	client  LogFilterer
	retrier *retry.Retrier
	metrics *metrics.MetricsSink
	logger  *zap.Logger
}

func NewLogFetcher(chain config.Chain, client LogFilterer, retrier *retry.Retrier, ms *metrics.MetricsSink, l *zap.Logger) *LogFetcher {
	return &LogFetcher{
		chain:   chain,
		client:  client,
		retrier: retrier,
		metrics: ms,
		logger:  l,
	}
}

// SplitRange bisects a range at its midpoint into [From, mid] and [mid+1, To].
func SplitRange(r BlockRange) (BlockRange, BlockRange) {
	mid := r.From + (r.To-r.From)/2
	return BlockRange{From: r.From, To: mid, Depth: r.Depth + 1},
		BlockRange{From: mid + 1, To: r.To, Depth: r.Depth + 1}
}

// FetchAllLogs lazily walks [FromBlock, ToBlock], yielding a batch per successful sub-range.
// Ranges are processed breadth-first; a range the provider rejects as too large is split in two and
// both halves are queued at the back. Any other error, or an overload on a single block, is yielded
// once and ends the sequence.
func (f *LogFetcher) FetchAllLogs(ctx context.Context, req *FetchRequest) iter.Seq2[*LogBatch, error] {
	return func(yield func(*LogBatch, error) bool) {
		if req.FromBlock > req.ToBlock {
			yield(nil, errors.Errorf("invalid block range [%d, %d]", req.FromBlock, req.ToBlock))
			return
		}

		queue := []BlockRange{{From: req.FromBlock, To: req.ToBlock, Depth: 0}}

		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			r := queue[0]
			queue = queue[1:]

			logs, err := f.fetchRange(ctx, req, r)
			if err == nil {
				if !yield(&LogBatch{FromBlock: r.From, ToBlock: r.To, Depth: r.Depth, Logs: logs}, nil) {
					return
				}
				continue
			}

			if !IsRangeTooLargeError(err) || r.From == r.To {
				f.logger.Sugar().Errorw("Failed to fetch logs for range",
					zap.Uint64("chainId", uint64(f.chain)),
					zap.Uint64("fromBlock", r.From),
					zap.Uint64("toBlock", r.To),
					zap.Int("depth", r.Depth),
					zap.Strings("contracts", addressesToStrings(req.ContractAddresses)),
					zap.String("topic0", req.Topic0.Hex()),
					zap.Error(err),
				)
				yield(nil, errors.Wrapf(err, "failed to fetch logs for blocks [%d, %d]", r.From, r.To))
				return
			}

			left, right := SplitRange(r)
			f.logger.Sugar().Debugw("Splitting log range",
				zap.Uint64("chainId", uint64(f.chain)),
				zap.Uint64("fromBlock", r.From),
				zap.Uint64("toBlock", r.To),
				zap.Int("depth", r.Depth),
				zap.Error(err),
			)
			f.metrics.Incr(metricsTypes.Metric_Incr_LogRangeSplit, []metricsTypes.MetricsLabel{
				{Name: "chain", Value: f.chain.Id()},
				{Name: "depth", Value: strconv.Itoa(r.Depth)},
			}, 1)
			queue = append(queue, left, right)
		}
	}
}

func (f *LogFetcher) fetchRange(ctx context.Context, req *FetchRequest, r BlockRange) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: req.ContractAddresses,
		Topics:    [][]common.Hash{{req.Topic0}},
	}
	return retry.Call(ctx, f.retrier, func(ctx context.Context) ([]types.Log, error) {
		return f.client.FilterLogs(ctx, query)
	})
}

func addressesToStrings(addresses []common.Address) []string {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, a.Hex())
	}
	return out
}
