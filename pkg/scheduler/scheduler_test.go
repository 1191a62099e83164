package scheduler

import (
	"fmt"
	"testing"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/stretchr/testify/assert"
)

const (
	transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	depositTopic  = "0xe1fffcc4923d04b559f4d29a8bfc6cda04eb5b0d3c460751c2402c5c5cc9109c"
)

func makeJobs(count int, topic0 string, userAddressIndex int, status jobStore.JobStatus, blockNumber uint64) []*jobStore.Job {
	jobs := make([]*jobStore.Job, 0, count)
	for i := 0; i < count; i++ {
		jobs = append(jobs, &jobStore.Job{
			ContractAddress:  fmt.Sprintf("0x%s%04d", topic0[2:8], i),
			Topic0:           topic0,
			UserAddressIndex: userAddressIndex,
			BlockNumber:      blockNumber,
			Status:           status,
		})
	}
	return jobs
}

func Test_CalculateBatchSize(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		max      int
		expected int
	}{
		{"", 0, 10, 1},
		{"", 100, 10, 1},
		{"", 101, 10, 1},
		{"150 jobs with max 10 fetch one contract per call", 150, 10, 1},
		{"", 190, 10, 1},
		{"", 280, 10, 2},
		{"", 550, 10, 5},
		{"", 999, 10, 9},
		{"", 1000, 10, 10},
		{"1500 jobs with max 10 fetch ten contracts per call", 1500, 10, 10},
		{"", 50000, 10, 10},
		{"", 50, 5, 1},
		{"", 500, 5, 5},
		{"", 275, 5, 2},
		{"", 10, 0, 1},
	}
	for _, test := range tests {
		name := test.name
		if name == "" {
			name = fmt.Sprintf("n=%d max=%d", test.n, test.max)
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, CalculateBatchSize(test.n, test.max))
		})
	}
	t.Run("Should never decrease as the group grows", func(t *testing.T) {
		prev := 0
		for n := 0; n <= 1200; n++ {
			size := CalculateBatchSize(n, 10)
			assert.GreaterOrEqual(t, size, prev)
			assert.LessOrEqual(t, size, 10)
			prev = size
		}
	})
}

func Test_GetNextPoolGroup(t *testing.T) {
	t.Run("Should return nil with no jobs", func(t *testing.T) {
		assert.Nil(t, GetNextPoolGroup(nil, config.Chain_Ethereum))
		assert.Nil(t, GetNextPoolGroup([]*jobStore.Job{}, config.Chain_Ethereum))
	})
	t.Run("Should pick the largest pending group", func(t *testing.T) {
		jobs := append(makeJobs(3, depositTopic, 0, jobStore.JobStatus_Pending, 10), makeJobs(5, transferTopic, 2, jobStore.JobStatus_Pending, 20)...)
		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)

		assert.NotNil(t, group)
		assert.Equal(t, transferTopic, group.Topic0)
		assert.Equal(t, 2, group.UserAddressIndex)
		assert.Len(t, group.ContractAddresses, 5)
		assert.Equal(t, 1, group.BatchSize)
		assert.False(t, group.Failed)
	})
	t.Run("Should split groups by user address index", func(t *testing.T) {
		jobs := append(makeJobs(3, transferTopic, 1, jobStore.JobStatus_Pending, 10), makeJobs(2, transferTopic, 2, jobStore.JobStatus_Pending, 20)...)
		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)
		assert.Equal(t, 1, group.UserAddressIndex)
		assert.Len(t, group.ContractAddresses, 3)
	})
	t.Run("Should break ties by the first group seen", func(t *testing.T) {
		jobs := append(makeJobs(2, depositTopic, 0, jobStore.JobStatus_Pending, 10), makeJobs(2, transferTopic, 2, jobStore.JobStatus_Pending, 20)...)
		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)
		assert.Equal(t, depositTopic, group.Topic0)
	})
	t.Run("Should target the highest registration block in the group", func(t *testing.T) {
		jobs := makeJobs(3, transferTopic, 2, jobStore.JobStatus_Pending, 10)
		jobs[1].BlockNumber = 500
		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)
		assert.Equal(t, uint64(500), group.TargetBlockNumber)
	})
	t.Run("Should carry parse options from the first member", func(t *testing.T) {
		abi := "event Deposit(address indexed user, uint256 amount)"
		transform := "uint256"
		jobs := makeJobs(2, depositTopic, 0, jobStore.JobStatus_Pending, 10)
		jobs[0].EventAbi = &abi
		jobs[0].TransformUserAddressType = &transform
		jobs[0].AdditionalMetadataArguments = jobStore.AdditionalMetadataArguments{"amount": "amount"}

		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)
		assert.Equal(t, abi, *group.EventAbi)
		assert.Equal(t, transform, *group.TransformUserAddressType)
		assert.Equal(t, "amount", group.AdditionalMetadataArguments["amount"])
	})
	t.Run("Should prefer pending jobs over failed ones", func(t *testing.T) {
		jobs := append(makeJobs(10, depositTopic, 0, jobStore.JobStatus_Failed, 10), makeJobs(1, transferTopic, 2, jobStore.JobStatus_Pending, 20)...)
		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)
		assert.Equal(t, transferTopic, group.Topic0)
		assert.False(t, group.Failed)
	})
	t.Run("Should retry the first failed job alone", func(t *testing.T) {
		jobs := makeJobs(4, depositTopic, 0, jobStore.JobStatus_Failed, 10)
		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)
		assert.Equal(t, []string{jobs[0].ContractAddress}, group.ContractAddresses)
		assert.Equal(t, 1, group.BatchSize)
		assert.True(t, group.Failed)
	})
	t.Run("Should ignore completed jobs", func(t *testing.T) {
		jobs := makeJobs(4, depositTopic, 0, jobStore.JobStatus_Completed, 10)
		assert.Nil(t, GetNextPoolGroup(jobs, config.Chain_Ethereum))
	})
	t.Run("Should fetch a 150 job group one contract at a time", func(t *testing.T) {
		jobs := makeJobs(150, transferTopic, 2, jobStore.JobStatus_Pending, 10)
		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)
		assert.Len(t, group.ContractAddresses, 150)
		assert.Equal(t, 1, group.BatchSize)
	})
	t.Run("Should fetch a 1500 job group ten contracts at a time", func(t *testing.T) {
		jobs := makeJobs(1500, transferTopic, 2, jobStore.JobStatus_Pending, 10)
		group := GetNextPoolGroup(jobs, config.Chain_Ethereum)
		assert.Len(t, group.ContractAddresses, 1500)
		assert.Equal(t, 10, group.BatchSize)
	})
	t.Run("Should use the chain's contract limit for large backlogs", func(t *testing.T) {
		jobs := makeJobs(1000, transferTopic, 2, jobStore.JobStatus_Pending, 10)
		assert.Equal(t, 10, GetNextPoolGroup(jobs, config.Chain_Ethereum).BatchSize)
		assert.Equal(t, 5, GetNextPoolGroup(jobs, config.Chain_Polygon).BatchSize)
	})
}
