package _202610161200_historicCache

import (
	"database/sql"
	"fmt"

	"github.com/defi-indexer/historic-cache/internal/config"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, chain config.Chain, cfg *config.Config) error {
	schema := config.GetChainSchemaName(chain)

	queries := []string{
		fmt.Sprintf(`create schema if not exists %s`, schema),
		fmt.Sprintf(`
		create table if not exists %s.jobs (
			contract_address varchar(42) not null,
			topic_0 varchar(66) not null,
			event_abi text,
			user_address_index integer not null,
			block_number bigint not null,
			status varchar(16) not null default 'pending',
			additional_metadata_arguments jsonb,
			transform_user_address_type text,
			created_at timestamp with time zone default current_timestamp,
			updated_at timestamp with time zone default current_timestamp,
			primary key (contract_address, topic_0, user_address_index),
			constraint jobs_status_check check (status in ('pending', 'failed', 'completed')),
			constraint jobs_user_address_index_check check (user_address_index >= 0),
			constraint jobs_block_number_check check (block_number >= 0)
		)`, schema),
		fmt.Sprintf(`
		create table if not exists %s.logs (
			address varchar(42) not null,
			contract_address varchar(42) not null,
			metadata_key text,
			metadata_value text,
			created_at timestamp with time zone default current_timestamp
		)`, schema),
		// null metadata must collide with null metadata, so the uniqueness is over coalesced values
		fmt.Sprintf(`
		create unique index if not exists uniq_logs_address_contract_metadata
			on %s.logs (address, contract_address, coalesce(metadata_key, ''), coalesce(metadata_value, ''))
		`, schema),
		fmt.Sprintf(`
		create table if not exists %s.settings (
			key text primary key,
			value text not null,
			updated_at timestamp with time zone default current_timestamp
		)`, schema),
	}

	for _, query := range queries {
		res := grm.Exec(query)
		if res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610161200_historicCache"
}
