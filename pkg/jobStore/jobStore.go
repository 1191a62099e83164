// Package jobStore defines the persistent model of the historic cache: backfill jobs, the cached
// user/contract log tuples and a small key/value settings table, all namespaced per chain.
package jobStore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatus_Pending   JobStatus = "pending"
	JobStatus_Failed    JobStatus = "failed"
	JobStatus_Completed JobStatus = "completed"
)

const Setting_LatestBlockProcessed = "latest_block_processed"

// AdditionalMetadataArguments maps an event argument name to the metadata key it is stored under.
type AdditionalMetadataArguments map[string]string

func (a AdditionalMetadataArguments) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *AdditionalMetadataArguments) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for additional metadata arguments", value)
	}
	m := make(map[string]string)
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*a = m
	return nil
}

// Job is the backfill state of one (contract, topic0, user address index) triple.
type Job struct {
	ContractAddress             string                      `gorm:"column:contract_address;primaryKey"`
	Topic0                      string                      `gorm:"column:topic_0;primaryKey"`
	EventAbi                    *string                     `gorm:"column:event_abi"`
	UserAddressIndex            int                         `gorm:"column:user_address_index;primaryKey"`
	BlockNumber                 uint64                      `gorm:"column:block_number"`
	Status                      JobStatus                   `gorm:"column:status"`
	AdditionalMetadataArguments AdditionalMetadataArguments `gorm:"column:additional_metadata_arguments;type:jsonb"`
	TransformUserAddressType    *string                     `gorm:"column:transform_user_address_type"`
	CreatedAt                   time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                   time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *Job) Key() JobKey {
	return JobKey{
		ContractAddress:  j.ContractAddress,
		Topic0:           j.Topic0,
		UserAddressIndex: j.UserAddressIndex,
	}
}

type JobKey struct {
	ContractAddress  string `gorm:"column:contract_address"`
	Topic0           string `gorm:"column:topic_0"`
	UserAddressIndex int    `gorm:"column:user_address_index"`
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s_%s_%d", k.ContractAddress, k.Topic0, k.UserAddressIndex)
}

// Log is one cached (user address, contract address, metadata) relationship.
type Log struct {
	Address         string  `gorm:"column:address"`
	ContractAddress string  `gorm:"column:contract_address"`
	MetadataKey     *string `gorm:"column:metadata_key"`
	MetadataValue   *string `gorm:"column:metadata_value"`
}

func (l *Log) dedupeKey() string {
	key, value := "", ""
	if l.MetadataKey != nil {
		key = *l.MetadataKey
	}
	if l.MetadataValue != nil {
		value = *l.MetadataValue
	}
	return fmt.Sprintf("%s_%s_%s_%s", l.Address, l.ContractAddress, key, value)
}

// DedupeLogs drops tuples that are identical, treating nil metadata as equal to nil metadata.
func DedupeLogs(logs []*Log) []*Log {
	seen := make(map[string]bool, len(logs))
	out := make([]*Log, 0, len(logs))
	for _, l := range logs {
		k := l.dedupeKey()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, l)
	}
	return out
}

// AddressPool is a contract a user address has interacted with, plus the metadata captured for it.
type AddressPool struct {
	ContractAddress string  `gorm:"column:contract_address" csv:"contract_address"`
	MetadataKey     *string `gorm:"column:metadata_key" csv:"metadata_key"`
	MetadataValue   *string `gorm:"column:metadata_value" csv:"metadata_value"`
}

type JobStatusCount struct {
	Status JobStatus `gorm:"column:status" csv:"status"`
	Count  int64     `gorm:"column:count" csv:"count"`
}

type JobStore interface {
	// InsertJobs inserts new jobs, ignoring any whose key already exists. Returns the number inserted.
	InsertJobs(jobs []*Job) (int64, error)
	// GetUnfinishedJobs returns every pending or failed job.
	GetUnfinishedJobs() ([]*Job, error)
	GetJobKeys() ([]JobKey, error)
	UpdateJobStatus(contractAddresses []string, topic0 string, userAddressIndex int, status JobStatus) error
	// InsertLogs inserts log tuples, ignoring duplicates. Returns the number inserted.
	InsertLogs(logs []*Log) (int64, error)
	// GetLatestBlockProcessed returns false when nothing has been recorded yet.
	GetLatestBlockProcessed() (uint64, bool, error)
	// SetLatestBlockProcessed only ever moves the stored value forward.
	SetLatestBlockProcessed(blockNumber uint64) error
	GetAddressPools(userAddress string) ([]*AddressPool, error)
	GetJobStatusCounts() ([]*JobStatusCount, error)
	GetLogCount() (int64, error)
}
