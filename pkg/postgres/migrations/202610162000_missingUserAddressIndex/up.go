package _202610162000_missingUserAddressIndex

import (
	"database/sql"
	"fmt"

	"github.com/defi-indexer/historic-cache/internal/config"
	"gorm.io/gorm"
)

// Migration lets jobs record -1 when the user address argument is not part of the event.
type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, chain config.Chain, cfg *config.Config) error {
	schema := config.GetChainSchemaName(chain)

	queries := []string{
		fmt.Sprintf(`alter table %s.jobs drop constraint if exists jobs_user_address_index_check`, schema),
		fmt.Sprintf(`alter table %s.jobs add constraint jobs_user_address_index_check check (user_address_index >= -1)`, schema),
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202610162000_missingUserAddressIndex"
}
