// Package scheduler selects the next group of unfinished jobs the cache builder should work on
// and sizes the contract batches for that group.
package scheduler

import (
	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// below smallBacklogFactor*max contracts every contract is fetched on its own
	smallBacklogFactor = 10
	// at or above largeBacklogFactor*max contracts batches are capped at max
	largeBacklogFactor = 100
)

// PoolGroup is a set of contracts sharing a (topic0, user address index) pair, processed as one unit of work.
type PoolGroup struct {
	ContractAddresses           []string
	Topic0                      string
	EventAbi                    *string
	UserAddressIndex            int
	AdditionalMetadataArguments jobStore.AdditionalMetadataArguments
	TransformUserAddressType    *string
	// TargetBlockNumber is the highest registration height among the members
	TargetBlockNumber uint64
	BatchSize         int
	// Failed is true when the group is a single failed job being retried
	Failed bool
}

type groupKey struct {
	topic0           string
	userAddressIndex int
}

// CalculateBatchSize ramps the number of contracts per call linearly from 1 to maxPerCall as the
// group grows from 10x to 100x maxPerCall members.
func CalculateBatchSize(groupSize int, maxPerCall int) int {
	if maxPerCall < 1 {
		return 1
	}
	if groupSize <= smallBacklogFactor*maxPerCall {
		return 1
	}
	if groupSize >= largeBacklogFactor*maxPerCall {
		return maxPerCall
	}
	step := (largeBacklogFactor*maxPerCall - smallBacklogFactor*maxPerCall) / maxPerCall
	return max(1, (groupSize-smallBacklogFactor*maxPerCall)/step)
}

// GetNextPoolGroup returns the next unit of work, or nil when there is nothing to do.
//
// Pending jobs always win over failed ones. Pending jobs are grouped by (topic0, userAddressIndex) and
// the largest group is picked, with ties going to the group seen first. When only failed jobs remain,
// the first one is retried on its own so a misbehaving contract can't fail a whole batch again.
func GetNextPoolGroup(jobs []*jobStore.Job, chain config.Chain) *PoolGroup {
	if len(jobs) == 0 {
		return nil
	}

	var firstFailed *jobStore.Job
	groups := orderedmap.New[groupKey, []*jobStore.Job]()
	for _, j := range jobs {
		switch j.Status {
		case jobStore.JobStatus_Pending:
			key := groupKey{topic0: j.Topic0, userAddressIndex: j.UserAddressIndex}
			members, _ := groups.Get(key)
			groups.Set(key, append(members, j))
		case jobStore.JobStatus_Failed:
			if firstFailed == nil {
				firstFailed = j
			}
		}
	}

	if groups.Len() > 0 {
		var largest []*jobStore.Job
		for pair := groups.Oldest(); pair != nil; pair = pair.Next() {
			if len(pair.Value) > len(largest) {
				largest = pair.Value
			}
		}
		return newPoolGroup(largest, CalculateBatchSize(len(largest), config.GetMaxContractsPerCall(chain)), false)
	}

	if firstFailed != nil {
		return newPoolGroup([]*jobStore.Job{firstFailed}, 1, true)
	}
	return nil
}

func newPoolGroup(members []*jobStore.Job, batchSize int, failed bool) *PoolGroup {
	first := members[0]
	group := &PoolGroup{
		ContractAddresses:           make([]string, 0, len(members)),
		Topic0:                      first.Topic0,
		EventAbi:                    first.EventAbi,
		UserAddressIndex:            first.UserAddressIndex,
		AdditionalMetadataArguments: first.AdditionalMetadataArguments,
		TransformUserAddressType:    first.TransformUserAddressType,
		BatchSize:                   batchSize,
		Failed:                      failed,
	}
	for _, m := range members {
		group.ContractAddresses = append(group.ContractAddresses, m.ContractAddress)
		if m.BlockNumber > group.TargetBlockNumber {
			group.TargetBlockNumber = m.BlockNumber
		}
	}
	return group
}
