package jobRegistrar

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/eventInterests"
	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/defi-indexer/historic-cache/pkg/multicall"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type mockProvider struct {
	DiscoverFunc func(chain config.Chain) ([]*eventInterests.EventInterest, error)
}

func (m *mockProvider) DiscoverEventInterests(ctx context.Context, chain config.Chain) ([]*eventInterests.EventInterest, error) {
	return m.DiscoverFunc(chain)
}

type mockBlockNumberGetter struct {
	blockNumber uint64
	err         error
}

func (m *mockBlockNumberGetter) GetLatestBlock(ctx context.Context) (uint64, error) {
	return m.blockNumber, m.err
}

// mockJobStore keeps jobs in memory and only implements what registration touches.
type mockJobStore struct {
	jobStore.JobStore
	jobs      map[jobStore.JobKey]*jobStore.Job
	insertErr error
	inserts   int
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[jobStore.JobKey]*jobStore.Job)}
}

func (m *mockJobStore) GetJobKeys() ([]jobStore.JobKey, error) {
	keys := make([]jobStore.JobKey, 0, len(m.jobs))
	for k := range m.jobs {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *mockJobStore) InsertJobs(jobs []*jobStore.Job) (int64, error) {
	m.inserts++
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	var inserted int64
	for _, j := range jobs {
		if _, ok := m.jobs[j.Key()]; ok {
			continue
		}
		m.jobs[j.Key()] = j
		inserted++
	}
	return inserted, nil
}

var errStore = errors.New("store unavailable")

// mockContractCaller answers totalSupply() for the addresses in supplies and reverts for everything else.
// When failErr is set every call fails with it instead.
type mockContractCaller struct {
	supplies map[common.Address]*big.Int
	failErr  error
	calls    atomic.Int32
}

func (m *mockContractCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	if _, ok := m.supplies[contract]; ok {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (m *mockContractCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.calls.Add(1)
	if m.failErr != nil {
		return nil, m.failErr
	}
	supply, ok := m.supplies[*call.To]
	if !ok {
		return nil, &multicall.CallFailedError{Target: *call.To, Reason: "execution reverted"}
	}
	return common.LeftPadBytes(supply.Bytes(), 32), nil
}

type recordedMetric struct {
	name   string
	labels []metricsTypes.MetricsLabel
	value  float64
}

type recordingMetricsClient struct {
	recorded []recordedMetric
}

func (m *recordingMetricsClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	m.recorded = append(m.recorded, recordedMetric{name: name, labels: labels, value: value})
	return nil
}

func (m *recordingMetricsClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	m.recorded = append(m.recorded, recordedMetric{name: name, labels: labels, value: value})
	return nil
}

func (m *recordingMetricsClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	m.recorded = append(m.recorded, recordedMetric{name: name, labels: labels, value: float64(value.Milliseconds())})
	return nil
}

func (m *recordingMetricsClient) Flush() {}
