package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/stretchr/testify/assert"
)

type mockStatsStore struct {
	jobStore.JobStore
	counts      []*jobStore.JobStatusCount
	logs        int64
	latest      uint64
	latestFound bool
	err         error
}

func (m *mockStatsStore) GetJobStatusCounts() ([]*jobStore.JobStatusCount, error) {
	return m.counts, m.err
}

func (m *mockStatsStore) GetLogCount() (int64, error) {
	return m.logs, nil
}

func (m *mockStatsStore) GetLatestBlockProcessed() (uint64, bool, error) {
	return m.latest, m.latestFound, nil
}

func strPtr(s string) *string {
	return &s
}

func Test_GetChainStats(t *testing.T) {
	t.Run("Should collect counts per status", func(t *testing.T) {
		row, err := getChainStats(&mockStatsStore{
			counts: []*jobStore.JobStatusCount{
				{Status: jobStore.JobStatus_Completed, Count: 7},
				{Status: jobStore.JobStatus_Pending, Count: 2},
			},
			logs:        41,
			latest:      19000000,
			latestFound: true,
		}, config.Chain_Ethereum)
		assert.Nil(t, err)
		assert.Equal(t, &chainStatsRow{
			Chain:                "ethereum",
			PendingJobs:          2,
			CompletedJobs:        7,
			Logs:                 41,
			LatestBlockProcessed: "19000000",
		}, row)
	})
	t.Run("Should propagate store errors", func(t *testing.T) {
		_, err := getChainStats(&mockStatsStore{err: errors.New("boom")}, config.Chain_Ethereum)
		assert.NotNil(t, err)
	})
}

func Test_WriteRows(t *testing.T) {
	rows := []*addressPoolRow{
		newAddressPoolRow(config.Chain_Ethereum, &jobStore.AddressPool{ContractAddress: "0xpool1"}),
		newAddressPoolRow(config.Chain_Base, &jobStore.AddressPool{ContractAddress: "0xpool2", MetadataKey: strPtr("tokenId"), MetadataValue: strPtr("42")}),
	}

	t.Run("Should write csv", func(t *testing.T) {
		buf := &bytes.Buffer{}
		assert.Nil(t, writeRows(buf, "csv", &rows))
		assert.Equal(t, "chain,contract_address,metadata_key,metadata_value\n"+
			"ethereum,0xpool1,,\n"+
			"base,0xpool2,tokenId,42\n", buf.String())
	})
	t.Run("Should write an aligned table", func(t *testing.T) {
		buf := &bytes.Buffer{}
		assert.Nil(t, writeRows(buf, "table", &rows))
		assert.Regexp(t, `chain\s+contract_address\s+metadata_key\s+metadata_value`, buf.String())
		assert.Regexp(t, `base\s+0xpool2\s+tokenId\s+42`, buf.String())
	})
	t.Run("Should reject unknown formats", func(t *testing.T) {
		assert.NotNil(t, writeRows(&bytes.Buffer{}, "xml", &rows))
	})
}
