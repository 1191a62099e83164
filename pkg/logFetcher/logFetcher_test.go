package logFetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/logger"
	"github.com/defi-indexer/historic-cache/pkg/metrics"
	"github.com/defi-indexer/historic-cache/pkg/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

type rangeCall struct {
	from uint64
	to   uint64
}

type mockLogFilterer struct {
	mu             sync.Mutex
	calls          []rangeCall
	FilterLogsFunc func(from uint64, to uint64) ([]types.Log, error)
}

func (m *mockLogFilterer) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	m.mu.Lock()
	m.calls = append(m.calls, rangeCall{from: from, to: to})
	m.mu.Unlock()
	return m.FilterLogsFunc(from, to)
}

var tooManyResults = errors.New("query returned more than 10000 results")

func setup(t *testing.T, filterer *mockLogFilterer) *LogFetcher {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)
	sink, _ := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, nil)
	return NewLogFetcher(config.Chain_Ethereum, filterer, retry.NewRetrier("logs", time.Second, 0, l), sink, l)
}

func request(from, to uint64) *FetchRequest {
	return &FetchRequest{
		ContractAddresses: []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")},
		Topic0:            common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
		FromBlock:         from,
		ToBlock:           to,
	}
}

func logAt(block uint64) types.Log {
	return types.Log{BlockNumber: block}
}

func collect(t *testing.T, f *LogFetcher, req *FetchRequest) ([]*LogBatch, error) {
	batches := make([]*LogBatch, 0)
	for batch, err := range f.FetchAllLogs(context.Background(), req) {
		if err != nil {
			return batches, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func Test_LogFetcher(t *testing.T) {
	t.Run("Should yield one batch when the provider answers the full range", func(t *testing.T) {
		filterer := &mockLogFilterer{FilterLogsFunc: func(from, to uint64) ([]types.Log, error) {
			return []types.Log{logAt(from), logAt(to)}, nil
		}}
		f := setup(t, filterer)

		batches, err := collect(t, f, request(0, 100))
		assert.Nil(t, err)
		assert.Len(t, batches, 1)
		assert.Equal(t, uint64(0), batches[0].FromBlock)
		assert.Equal(t, uint64(100), batches[0].ToBlock)
		assert.Len(t, batches[0].Logs, 2)
	})
	t.Run("Should split at the midpoint when the provider reports too many results", func(t *testing.T) {
		filterer := &mockLogFilterer{FilterLogsFunc: func(from, to uint64) ([]types.Log, error) {
			if from == 1000 && to == 2000 {
				return nil, tooManyResults
			}
			return []types.Log{}, nil
		}}
		f := setup(t, filterer)

		batches, err := collect(t, f, request(1000, 2000))
		assert.Nil(t, err)
		assert.Len(t, batches, 2)
		assert.Equal(t, BlockRange{From: 1000, To: 1500, Depth: 1}, BlockRange{From: batches[0].FromBlock, To: batches[0].ToBlock, Depth: batches[0].Depth})
		assert.Equal(t, BlockRange{From: 1501, To: 2000, Depth: 1}, BlockRange{From: batches[1].FromBlock, To: batches[1].ToBlock, Depth: batches[1].Depth})
	})
	t.Run("Should process split ranges breadth first", func(t *testing.T) {
		filterer := &mockLogFilterer{FilterLogsFunc: func(from, to uint64) ([]types.Log, error) {
			if (from == 0 && to == 7) || (from == 0 && to == 3) {
				return nil, tooManyResults
			}
			return []types.Log{}, nil
		}}
		f := setup(t, filterer)

		batches, err := collect(t, f, request(0, 7))
		assert.Nil(t, err)

		ranges := make([]rangeCall, 0)
		for _, b := range batches {
			ranges = append(ranges, rangeCall{from: b.FromBlock, to: b.ToBlock})
		}
		assert.Equal(t, []rangeCall{{4, 7}, {0, 1}, {2, 3}}, ranges)
	})
	t.Run("Should cover the requested range exactly once", func(t *testing.T) {
		filterer := &mockLogFilterer{FilterLogsFunc: func(from, to uint64) ([]types.Log, error) {
			if to-from > 10 {
				return nil, tooManyResults
			}
			logs := make([]types.Log, 0)
			for b := from; b <= to; b++ {
				logs = append(logs, logAt(b))
			}
			return logs, nil
		}}
		f := setup(t, filterer)

		batches, err := collect(t, f, request(0, 1000))
		assert.Nil(t, err)

		seen := make(map[uint64]int)
		for _, b := range batches {
			for _, l := range b.Logs {
				seen[l.BlockNumber]++
			}
		}
		assert.Len(t, seen, 1001)
		for block, count := range seen {
			assert.Equal(t, 1, count, fmt.Sprintf("block %d", block))
		}
	})
	t.Run("Should surface errors that are not overload errors without splitting", func(t *testing.T) {
		filterer := &mockLogFilterer{FilterLogsFunc: func(from, to uint64) ([]types.Log, error) {
			return nil, errors.New("invalid params")
		}}
		f := setup(t, filterer)

		batches, err := collect(t, f, request(0, 100))
		assert.NotNil(t, err)
		assert.Len(t, batches, 0)
		assert.Len(t, filterer.calls, 1)
	})
	t.Run("Should fail when a single block is still too large", func(t *testing.T) {
		filterer := &mockLogFilterer{FilterLogsFunc: func(from, to uint64) ([]types.Log, error) {
			if from == 5 && to == 5 {
				return nil, tooManyResults
			}
			if to-from > 0 {
				return nil, tooManyResults
			}
			return []types.Log{}, nil
		}}
		f := setup(t, filterer)

		_, err := collect(t, f, request(4, 5))
		assert.NotNil(t, err)
		assert.True(t, errors.Is(err, tooManyResults))
	})
	t.Run("Should only query ranges the consumer pulls", func(t *testing.T) {
		filterer := &mockLogFilterer{FilterLogsFunc: func(from, to uint64) ([]types.Log, error) {
			if to-from > 10 {
				return nil, tooManyResults
			}
			return []types.Log{}, nil
		}}
		f := setup(t, filterer)

		for batch, err := range f.FetchAllLogs(context.Background(), request(0, 40)) {
			assert.Nil(t, err)
			assert.NotNil(t, batch)
			break
		}
		// [0,40], [0,20] and [21,40] split before [0,10] yields
		assert.Len(t, filterer.calls, 4)
	})
	t.Run("Should reject inverted ranges", func(t *testing.T) {
		f := setup(t, &mockLogFilterer{})
		_, err := collect(t, f, request(10, 1))
		assert.NotNil(t, err)
	})
}

func Test_SplitRange(t *testing.T) {
	left, right := SplitRange(BlockRange{From: 1000, To: 2000, Depth: 2})
	assert.Equal(t, BlockRange{From: 1000, To: 1500, Depth: 3}, left)
	assert.Equal(t, BlockRange{From: 1501, To: 2000, Depth: 3}, right)

	left, right = SplitRange(BlockRange{From: 7, To: 8})
	assert.Equal(t, BlockRange{From: 7, To: 7, Depth: 1}, left)
	assert.Equal(t, BlockRange{From: 8, To: 8, Depth: 1}, right)
}

type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string  { return e.msg }
func (e *codedError) ErrorCode() int { return e.code }

func Test_IsRangeTooLargeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"timeout", &retry.TimeoutError{Timeout: time.Second}, true},
		{"more than 10000 results", tooManyResults, true},
		{"limit exceeded code", &codedError{code: -32005, msg: "limit exceeded"}, true},
		{"block range limit", errors.New("eth_getLogs is limited to a 10,000 block range"), true},
		{"batch too large", errors.New("Batch too large"), true},
		{"node timeout", errors.New("query timeout exceeded"), true},
		{"server error", rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, true},
		{"payload too large", rpc.HTTPError{StatusCode: 413, Status: "413 Request Entity Too Large"}, true},
		{"rate limited", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, false},
		{"execution reverted", &codedError{code: 3, msg: "execution reverted"}, false},
		{"invalid params", errors.New("invalid argument 0"), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsRangeTooLargeError(test.err))
		})
	}
}
