package multicall

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/metrics"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/defi-indexer/historic-cache/pkg/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const latestBlockTag = "latest"

// ContractCaller is the subset of the node client the queue needs. It matches bind.ContractCaller.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
}

type MulticallQueueConfig struct {
	Chain            config.Chain
	MulticallAddress common.Address
	// FlushTimeout is the idle window after the most recent enqueue before a flush fires.
	FlushTimeout time.Duration
	MaxBatchSize int
}

type callResponse struct {
	data []byte
	err  error
}

type pendingCall struct {
	call         Call3
	responseChan chan *callResponse
}

// MulticallQueue coalesces concurrent eth_calls that target the same block into one aggregate3 call.
type MulticallQueue struct {
	config  *MulticallQueueConfig
	client  ContractCaller
	retrier *retry.Retrier
	metrics *metrics.MetricsSink
	logger  *zap.Logger

	mu         sync.Mutex
	pending    map[string][]*pendingCall
	flushTimer *time.Timer
}

func NewMulticallQueue(
	cfg *MulticallQueueConfig,
	client ContractCaller,
	retrier *retry.Retrier,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *MulticallQueue {
	if cfg.MulticallAddress == (common.Address{}) {
		cfg.MulticallAddress = common.HexToAddress(config.Multicall3Address)
	}
	return &MulticallQueue{
		config:  cfg,
		client:  client,
		retrier: retrier,
		metrics: ms,
		logger:  l,
		pending: make(map[string][]*pendingCall),
	}
}

func blockTagFromNumber(blockNumber *big.Int) string {
	if blockNumber == nil {
		return latestBlockTag
	}
	return hexutil.EncodeBig(blockNumber)
}

func blockNumberFromTag(tag string) *big.Int {
	if tag == latestBlockTag {
		return nil
	}
	n, err := hexutil.DecodeBig(tag)
	if err != nil {
		return nil
	}
	return n
}

// QueueCall enqueues a single call and blocks until its batch resolves or ctx is done.
func (q *MulticallQueue) QueueCall(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if msg.From != (common.Address{}) {
		return nil, ErrSenderNotSupported
	}
	if msg.To == nil {
		return nil, ErrMissingTarget
	}

	tag := blockTagFromNumber(blockNumber)
	pc := &pendingCall{
		call: Call3{
			Target:       *msg.To,
			AllowFailure: true,
			CallData:     msg.Data,
		},
		responseChan: make(chan *callResponse, 1),
	}

	q.mu.Lock()
	q.pending[tag] = append(q.pending[tag], pc)
	full := q.config.MaxBatchSize > 0 && len(q.pending[tag]) >= q.config.MaxBatchSize
	if !full {
		q.armFlushTimer()
	}
	q.mu.Unlock()

	if full {
		go q.Flush(context.Background())
	}

	select {
	case response := <-pc.responseChan:
		return response.data, response.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallContract lets the queue stand in for a node client, e.g. behind a bind.BoundContract.
func (q *MulticallQueue) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return q.QueueCall(ctx, msg, blockNumber)
}

func (q *MulticallQueue) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return q.client.CodeAt(ctx, contract, blockNumber)
}

// armFlushTimer must be called with q.mu held.
func (q *MulticallQueue) armFlushTimer() {
	if q.flushTimer != nil {
		q.flushTimer.Stop()
	}
	q.flushTimer = time.AfterFunc(q.config.FlushTimeout, func() {
		q.Flush(context.Background())
	})
}

// Flush takes every pending bucket and resolves each with one aggregate3 call.
func (q *MulticallQueue) Flush(ctx context.Context) {
	q.mu.Lock()
	batches := q.pending
	q.pending = make(map[string][]*pendingCall)
	if q.flushTimer != nil {
		q.flushTimer.Stop()
		q.flushTimer = nil
	}
	q.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	wg := &sync.WaitGroup{}
	for tag, calls := range batches {
		wg.Add(1)
		go func(tag string, calls []*pendingCall) {
			defer wg.Done()
			q.executeBatch(ctx, tag, calls)
		}(tag, calls)
	}
	wg.Wait()
}

func (q *MulticallQueue) chainLabels(extra ...metricsTypes.MetricsLabel) []metricsTypes.MetricsLabel {
	return append([]metricsTypes.MetricsLabel{{Name: "chain", Value: q.config.Chain.Id()}}, extra...)
}

func (q *MulticallQueue) rejectAll(tag string, calls []*pendingCall, err error) {
	mcErr := &MulticallError{
		Chain:        q.config.Chain,
		BlockTag:     tag,
		BatchSize:    len(calls),
		FlushTimeout: q.config.FlushTimeout,
		MaxBatchSize: q.config.MaxBatchSize,
		Err:          err,
	}
	q.logger.Sugar().Errorw("Multicall batch failed",
		zap.Uint64("chainId", uint64(q.config.Chain)),
		zap.String("blockTag", tag),
		zap.Int("batchSize", len(calls)),
		zap.Duration("flushTimeout", q.config.FlushTimeout),
		zap.Int("maxBatchSize", q.config.MaxBatchSize),
		zap.Error(err),
	)
	for _, pc := range calls {
		pc.responseChan <- &callResponse{err: mcErr}
	}
}

func (q *MulticallQueue) executeBatch(ctx context.Context, tag string, calls []*pendingCall) {
	startTime := time.Now()
	hasError := false
	defer func() {
		q.metrics.Incr(metricsTypes.Metric_Incr_MulticallFlush, q.chainLabels(), 1)
		q.metrics.Timing(metricsTypes.Metric_Timing_MulticallFlushDuration, time.Since(startTime), q.chainLabels(
			metricsTypes.MetricsLabel{Name: "hasError", Value: strconv.FormatBool(hasError)},
		))
	}()

	call3s := make([]Call3, 0, len(calls))
	for _, pc := range calls {
		call3s = append(call3s, pc.call)
	}

	data, err := packAggregate3(call3s)
	if err != nil {
		hasError = true
		q.rejectAll(tag, calls, err)
		return
	}

	to := q.config.MulticallAddress
	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	q.logger.Sugar().Debugw("Flushing multicall batch",
		zap.Uint64("chainId", uint64(q.config.Chain)),
		zap.String("blockTag", tag),
		zap.Int("batchSize", len(calls)),
	)

	res, err := retry.Call(ctx, q.retrier, func(ctx context.Context) ([]byte, error) {
		return q.client.CallContract(ctx, msg, blockNumberFromTag(tag))
	})
	if err != nil {
		hasError = true
		q.rejectAll(tag, calls, err)
		return
	}

	results, err := unpackAggregate3(res)
	if err != nil {
		hasError = true
		q.rejectAll(tag, calls, err)
		return
	}
	if len(results) != len(calls) {
		hasError = true
		q.rejectAll(tag, calls, ErrResultCountMismatch)
		return
	}

	for i, pc := range calls {
		result := results[i]
		if !result.Success {
			q.metrics.Incr(metricsTypes.Metric_Incr_MulticallFailed, q.chainLabels(
				metricsTypes.MetricsLabel{Name: "reason", Value: "reverted"},
			), 1)
			pc.responseChan <- &callResponse{err: &CallFailedError{
				Target: pc.call.Target,
				Reason: decodeRevertReason(result.ReturnData),
			}}
			continue
		}
		pc.responseChan <- &callResponse{data: result.ReturnData}
	}
}
