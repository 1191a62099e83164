package _202610161430_jobStatusIndex

import (
	"database/sql"
	"fmt"

	"github.com/defi-indexer/historic-cache/internal/config"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, chain config.Chain, cfg *config.Config) error {
	query := fmt.Sprintf(`create index if not exists idx_jobs_status on %s.jobs (status)`, config.GetChainSchemaName(chain))

	res := grm.Exec(query)
	return res.Error
}

func (m *Migration) GetName() string {
	return "202610161430_jobStatusIndex"
}
