package migrations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	_202610161200_historicCache "github.com/defi-indexer/historic-cache/pkg/postgres/migrations/202610161200_historicCache"
	_202610161430_jobStatusIndex "github.com/defi-indexer/historic-cache/pkg/postgres/migrations/202610161430_jobStatusIndex"
	_202610162000_missingUserAddressIndex "github.com/defi-indexer/historic-cache/pkg/postgres/migrations/202610162000_missingUserAddressIndex"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migration is a single schema change applied once per chain namespace.
type Migration interface {
	Up(db *sql.DB, grm *gorm.DB, chain config.Chain, cfg *config.Config) error
	GetName() string
}

// MigrationRecord tracks which migrations have been applied to which chain.
type MigrationRecord struct {
	Name      string `gorm:"primaryKey"`
	ChainId   uint64 `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (MigrationRecord) TableName() string {
	return "migrations"
}

type Migrator struct {
	Db           *sql.DB
	GDb          *gorm.DB
	Logger       *zap.Logger
	globalConfig *config.Config
}

func NewMigrator(db *sql.DB, gDb *gorm.DB, l *zap.Logger, cfg *config.Config) *Migrator {
	return &Migrator{
		Db:           db,
		GDb:          gDb,
		Logger:       l,
		globalConfig: cfg,
	}
}

func GetMigrations() []Migration {
	return []Migration{
		&_202610161200_historicCache.Migration{},
		&_202610161430_jobStatusIndex.Migration{},
		&_202610162000_missingUserAddressIndex.Migration{},
	}
}

// MigrateAll applies every pending migration for every configured chain.
func (m *Migrator) MigrateAll() error {
	if err := m.createMigrationsTable(); err != nil {
		return err
	}

	for _, chain := range m.globalConfig.Chains {
		for _, migration := range GetMigrations() {
			if err := m.Migrate(migration, chain); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Migrator) createMigrationsTable() error {
	res := m.GDb.Exec(`
		create table if not exists migrations (
			name text not null,
			chain_id bigint not null,
			created_at timestamp with time zone default current_timestamp,
			primary key (name, chain_id)
		)`)
	return res.Error
}

func (m *Migrator) Migrate(migration Migration, chain config.Chain) error {
	name := migration.GetName()

	var existing MigrationRecord
	res := m.GDb.Model(&MigrationRecord{}).
		Where("name = ? and chain_id = ?", name, uint64(chain)).
		Limit(1).
		Find(&existing)
	if res.Error != nil {
		return fmt.Errorf("failed to check migration '%s': %w", name, res.Error)
	}
	if res.RowsAffected > 0 {
		m.Logger.Sugar().Debugw("Migration already run", zap.String("name", name), zap.Uint64("chainId", uint64(chain)))
		return nil
	}

	m.Logger.Sugar().Infow("Running migration", zap.String("name", name), zap.Uint64("chainId", uint64(chain)))
	if err := migration.Up(m.Db, m.GDb, chain, m.globalConfig); err != nil {
		m.Logger.Sugar().Errorw("Failed to run migration",
			zap.String("name", name),
			zap.Uint64("chainId", uint64(chain)),
			zap.Error(err),
		)
		return err
	}

	res = m.GDb.Clauses(clause.OnConflict{DoNothing: true}).Create(&MigrationRecord{
		Name:      name,
		ChainId:   uint64(chain),
		CreatedAt: time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to record migration '%s': %w", name, res.Error)
	}
	return nil
}
