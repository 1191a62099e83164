package cacheBuilder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/defi-indexer/historic-cache/pkg/metrics/metricsTypes"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// mockJobStore is an in-memory store covering what the cache builder touches.
type mockJobStore struct {
	jobStore.JobStore

	mu          sync.Mutex
	jobs        []*jobStore.Job
	logs        map[string]*jobStore.Log
	insertCalls int
	latestBlock uint64
}

func newMockJobStore(jobs ...*jobStore.Job) *mockJobStore {
	return &mockJobStore{
		jobs: jobs,
		logs: make(map[string]*jobStore.Log),
	}
}

func (m *mockJobStore) GetUnfinishedJobs() ([]*jobStore.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unfinished := make([]*jobStore.Job, 0)
	for _, j := range m.jobs {
		if j.Status != jobStore.JobStatus_Completed {
			copied := *j
			unfinished = append(unfinished, &copied)
		}
	}
	return unfinished, nil
}

func (m *mockJobStore) UpdateJobStatus(contractAddresses []string, topic0 string, userAddressIndex int, status jobStore.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		for _, a := range contractAddresses {
			if j.ContractAddress == a && j.Topic0 == topic0 && j.UserAddressIndex == userAddressIndex {
				j.Status = status
			}
		}
	}
	return nil
}

func (m *mockJobStore) InsertLogs(logs []*jobStore.Log) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	var inserted int64
	for _, l := range logs {
		key := l.Address + "_" + l.ContractAddress
		if _, ok := m.logs[key]; ok {
			continue
		}
		m.logs[key] = l
		inserted++
	}
	return inserted, nil
}

func (m *mockJobStore) SetLatestBlockProcessed(blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestBlock = max(m.latestBlock, blockNumber)
	return nil
}

func (m *mockJobStore) statusOf(contractAddress string) jobStore.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ContractAddress == contractAddress {
			return j.Status
		}
	}
	return ""
}

func (m *mockJobStore) logKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.logs))
	for k := range m.logs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mockLogFilterer serves the logs it holds within the queried range and address set.
type mockLogFilterer struct {
	mu    sync.Mutex
	logs  []types.Log
	calls int
	// FailFunc lets a test reject a query before any logs are served
	FailFunc func(q ethereum.FilterQuery) error
}

func (m *mockLogFilterer) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.FailFunc != nil {
		if err := m.FailFunc(q); err != nil {
			return nil, err
		}
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	addresses := make(map[common.Address]bool)
	for _, a := range q.Addresses {
		addresses[a] = true
	}

	out := make([]types.Log, 0)
	for _, l := range m.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to && addresses[l.Address] {
			out = append(out, l)
		}
	}
	return out, nil
}

// recordingMetricsClient keeps the labels of every metric it receives.
type recordingMetricsClient struct {
	mu     sync.Mutex
	labels map[string][][]metricsTypes.MetricsLabel
}

func newRecordingMetricsClient() *recordingMetricsClient {
	return &recordingMetricsClient{labels: make(map[string][][]metricsTypes.MetricsLabel)}
}

func (m *recordingMetricsClient) record(name string, labels []metricsTypes.MetricsLabel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[name] = append(m.labels[name], labels)
}

func (m *recordingMetricsClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	m.record(name, labels)
	return nil
}

func (m *recordingMetricsClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	m.record(name, labels)
	return nil
}

func (m *recordingMetricsClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	m.record(name, labels)
	return nil
}

func (m *recordingMetricsClient) Flush() {}
