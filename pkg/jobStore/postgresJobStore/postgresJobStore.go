// Package postgresJobStore provides a PostgreSQL implementation of the jobStore interface.
// Each instance is bound to one chain and reads and writes that chain's schema.
package postgresJobStore

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/defi-indexer/historic-cache/pkg/postgres/helpers"
	"github.com/defi-indexer/historic-cache/pkg/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 1000

type PostgresJobStore struct {
	// Db is the GORM database connection
	Db *gorm.DB
	// Logger is used for logging operations
	Logger *zap.Logger
	// Chain selects the schema the store reads and writes
	Chain        config.Chain
	globalConfig *config.Config

	// jobStatusMu serialises status transactions, logsMu serialises log insert transactions
	jobStatusMu sync.Mutex
	logsMu      sync.Mutex
}

func NewPostgresJobStore(db *gorm.DB, chain config.Chain, l *zap.Logger, cfg *config.Config) *PostgresJobStore {
	return &PostgresJobStore{
		Db:           db,
		Logger:       l,
		Chain:        chain,
		globalConfig: cfg,
	}
}

func (s *PostgresJobStore) table(name string) string {
	return fmt.Sprintf("%s.%s", config.GetChainSchemaName(s.Chain), name)
}

func (s *PostgresJobStore) InsertJobs(jobs []*jobStore.Job) (int64, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	for _, j := range jobs {
		j.ContractAddress = utils.NormalizeAddress(j.ContractAddress)
		j.Topic0 = utils.NormalizeAddress(j.Topic0)
		if j.Status == "" {
			j.Status = jobStore.JobStatus_Pending
		}
	}

	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (int64, error) {
		res := tx.Table(s.table("jobs")).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(jobs, insertBatchSize)
		if res.Error != nil {
			s.Logger.Sugar().Errorw("Failed to insert jobs",
				zap.Uint64("chainId", uint64(s.Chain)),
				zap.Int("count", len(jobs)),
				zap.Error(res.Error),
			)
			return 0, res.Error
		}
		return res.RowsAffected, nil
	}, s.Db, nil)
}

func (s *PostgresJobStore) GetUnfinishedJobs() ([]*jobStore.Job, error) {
	jobs := make([]*jobStore.Job, 0)
	res := s.Db.Table(s.table("jobs")).
		Where("status in ?", []jobStore.JobStatus{jobStore.JobStatus_Pending, jobStore.JobStatus_Failed}).
		Order("contract_address asc, topic_0 asc, user_address_index asc").
		Find(&jobs)
	if res.Error != nil {
		return nil, res.Error
	}
	return jobs, nil
}

func (s *PostgresJobStore) GetJobKeys() ([]jobStore.JobKey, error) {
	keys := make([]jobStore.JobKey, 0)
	res := s.Db.Table(s.table("jobs")).
		Select("contract_address, topic_0, user_address_index").
		Find(&keys)
	if res.Error != nil {
		return nil, res.Error
	}
	return keys, nil
}

func (s *PostgresJobStore) UpdateJobStatus(contractAddresses []string, topic0 string, userAddressIndex int, status jobStore.JobStatus) error {
	if len(contractAddresses) == 0 {
		return nil
	}
	addresses := utils.Map(contractAddresses, func(a string, i uint64) string {
		return utils.NormalizeAddress(a)
	})

	s.jobStatusMu.Lock()
	defer s.jobStatusMu.Unlock()

	_, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (int64, error) {
		res := tx.Table(s.table("jobs")).
			Where("contract_address in ? and topic_0 = ? and user_address_index = ?", addresses, utils.NormalizeAddress(topic0), userAddressIndex).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": time.Now(),
			})
		return res.RowsAffected, res.Error
	}, s.Db, nil)
	if err != nil {
		s.Logger.Sugar().Errorw("Failed to update job status",
			zap.Uint64("chainId", uint64(s.Chain)),
			zap.Strings("contractAddresses", addresses),
			zap.String("topic0", topic0),
			zap.Int("userAddressIndex", userAddressIndex),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	return err
}

func (s *PostgresJobStore) InsertLogs(logs []*jobStore.Log) (int64, error) {
	if len(logs) == 0 {
		return 0, nil
	}
	for _, l := range logs {
		l.Address = utils.NormalizeAddress(l.Address)
		l.ContractAddress = utils.NormalizeAddress(l.ContractAddress)
	}
	logs = jobStore.DedupeLogs(logs)

	s.logsMu.Lock()
	defer s.logsMu.Unlock()

	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (int64, error) {
		res := tx.Table(s.table("logs")).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(logs, insertBatchSize)
		if res.Error != nil {
			s.Logger.Sugar().Errorw("Failed to insert logs",
				zap.Uint64("chainId", uint64(s.Chain)),
				zap.Int("count", len(logs)),
				zap.Error(res.Error),
			)
			return 0, res.Error
		}
		return res.RowsAffected, nil
	}, s.Db, nil)
}

type setting struct {
	Key   string
	Value string
}

func (s *PostgresJobStore) GetLatestBlockProcessed() (uint64, bool, error) {
	var st setting
	res := s.Db.Table(s.table("settings")).
		Select("key, value").
		Where("key = ?", jobStore.Setting_LatestBlockProcessed).
		First(&st)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, res.Error
	}
	n, err := strconv.ParseUint(st.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s value '%s': %w", jobStore.Setting_LatestBlockProcessed, st.Value, err)
	}
	return n, true, nil
}

func (s *PostgresJobStore) SetLatestBlockProcessed(blockNumber uint64) error {
	query := fmt.Sprintf(`
		insert into %s as s (key, value, updated_at)
		values (@key, @value, now())
		on conflict (key) do update
			set value = greatest(s.value::numeric, excluded.value::numeric)::text,
				updated_at = now()
	`, s.table("settings"))

	res := s.Db.Exec(query, map[string]interface{}{
		"key":   jobStore.Setting_LatestBlockProcessed,
		"value": strconv.FormatUint(blockNumber, 10),
	})
	return res.Error
}

func (s *PostgresJobStore) GetAddressPools(userAddress string) ([]*jobStore.AddressPool, error) {
	pools := make([]*jobStore.AddressPool, 0)
	res := s.Db.Table(s.table("logs")).
		Select("contract_address, metadata_key, metadata_value").
		Where("address = ?", utils.NormalizeAddress(userAddress)).
		Order("contract_address asc, metadata_key asc nulls first, metadata_value asc nulls first").
		Find(&pools)
	if res.Error != nil {
		return nil, res.Error
	}
	return pools, nil
}

func (s *PostgresJobStore) GetJobStatusCounts() ([]*jobStore.JobStatusCount, error) {
	counts := make([]*jobStore.JobStatusCount, 0)
	res := s.Db.Table(s.table("jobs")).
		Select("status, count(*) as count").
		Group("status").
		Order("status asc").
		Find(&counts)
	if res.Error != nil {
		return nil, res.Error
	}
	return counts, nil
}

func (s *PostgresJobStore) GetLogCount() (int64, error) {
	var count int64
	res := s.Db.Table(s.table("logs")).Count(&count)
	return count, res.Error
}
