package postgres

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/internal/tests"
	"github.com/defi-indexer/historic-cache/pkg/postgres/migrations"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultSSLMode = "disable"
	rootDbName     = "postgres"

	// every chain builder holds a handful of connections while inserting sub-ranges concurrently
	maxOpenConns    = 50
	maxIdleConns    = 10
	connMaxLifetime = 30 * time.Minute
)

var validSSLModes = []string{"disable", "require", "verify-ca", "verify-full"}

// PostgresConfig holds the connection parameters for a single database.
type PostgresConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DbName   string

	// CreateDbIfNotExists creates DbName on the server before connecting.
	CreateDbIfNotExists bool

	// SchemaName is set as the connection search_path. Chain tables are always schema qualified,
	// so this only affects unqualified statements.
	SchemaName string

	SSLMode     string
	SSLCert     string
	SSLKey      string
	SSLRootCert string
}

type Postgres struct {
	Db *sql.DB
}

func PostgresConfigFromDbConfig(dbCfg *config.DatabaseConfig) *PostgresConfig {
	return &PostgresConfig{
		Host:        dbCfg.Host,
		Port:        dbCfg.Port,
		Username:    dbCfg.User,
		Password:    dbCfg.Password,
		DbName:      dbCfg.DbName,
		SchemaName:  dbCfg.SchemaName,
		SSLMode:     dbCfg.SSLMode,
		SSLCert:     dbCfg.SSLCert,
		SSLKey:      dbCfg.SSLKey,
		SSLRootCert: dbCfg.SSLRootCert,
	}
}

// withDbName returns a copy of the config pointed at another database on the same server.
func (c *PostgresConfig) withDbName(name string) *PostgresConfig {
	cp := *c
	cp.DbName = name
	cp.SchemaName = ""
	cp.CreateDbIfNotExists = false
	return &cp
}

// ConnectionString renders the config as a libpq key/value connection string.
func (c *PostgresConfig) ConnectionString() (string, error) {
	sslMode := defaultSSLMode
	if c.SSLMode != "" {
		if !slices.Contains(validSSLModes, c.SSLMode) {
			return "", fmt.Errorf("invalid ssl mode: %s. Must be one of: %s", c.SSLMode, strings.Join(validSSLModes, ", "))
		}
		sslMode = c.SSLMode
	}

	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("dbname=%s", c.DbName),
	}
	if c.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", c.Username))
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	parts = append(parts, fmt.Sprintf("sslmode=%s", sslMode), "TimeZone=UTC")

	if c.SchemaName != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", c.SchemaName))
	}

	if sslMode != defaultSSLMode {
		for _, kv := range [][2]string{
			{"sslcert", c.SSLCert},
			{"sslkey", c.SSLKey},
			{"sslrootcert", c.SSLRootCert},
		} {
			if kv[1] != "" {
				parts = append(parts, fmt.Sprintf("%s=%s", kv[0], kv[1]))
			}
		}
	}
	return strings.Join(parts, " "), nil
}

func openRootConnection(cfg *PostgresConfig) (*sql.DB, error) {
	connStr, err := cfg.withDbName(rootDbName).ConnectionString()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to the postgres root database")
	}
	return db, nil
}

// CreateDatabaseIfNotExists creates cfg.DbName when the server does not have it yet.
func CreateDatabaseIfNotExists(cfg *PostgresConfig, l *zap.Logger) error {
	rootDb, err := openRootConnection(cfg)
	if err != nil {
		return err
	}
	defer rootDb.Close()

	var exists bool
	err = rootDb.QueryRow(`SELECT EXISTS(SELECT 1 FROM pg_catalog.pg_database WHERE datname = $1)`, cfg.DbName).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "failed to check if database exists")
	}
	if exists {
		return nil
	}

	if _, err = rootDb.Exec(fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(cfg.DbName))); err != nil {
		return errors.Wrapf(err, "failed to create database %s", cfg.DbName)
	}
	l.Sugar().Infow("Created database", zap.String("database", cfg.DbName))
	return nil
}

// DropDatabase drops dbName from the server described by cfg.
func DropDatabase(cfg *PostgresConfig, dbName string, l *zap.Logger) error {
	rootDb, err := openRootConnection(cfg)
	if err != nil {
		return err
	}
	defer rootDb.Close()

	if _, err = rootDb.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", pq.QuoteIdentifier(dbName))); err != nil {
		return errors.Wrapf(err, "failed to drop database %s", dbName)
	}
	l.Sugar().Debugw("Dropped database", zap.String("database", dbName))
	return nil
}

// NewPostgres opens a pooled connection to the configured database, creating it first if asked to.
func NewPostgres(cfg *PostgresConfig, l *zap.Logger) (*Postgres, error) {
	if cfg.CreateDbIfNotExists {
		if err := CreateDatabaseIfNotExists(cfg, l); err != nil {
			return nil, err
		}
	}
	connStr, err := cfg.ConnectionString()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to reach database %s on %s:%d", cfg.DbName, cfg.Host, cfg.Port)
	}
	return &Postgres{Db: db}, nil
}

func NewGormFromPostgresConnection(pgDb *sql.DB) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn: pgDb,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup gorm")
	}
	return db, nil
}

// GetTestPostgresDatabaseWithoutMigrations creates a uniquely named, empty database for a test.
func GetTestPostgresDatabaseWithoutMigrations(cfg config.DatabaseConfig, l *zap.Logger) (string, *sql.DB, *gorm.DB, error) {
	testDbName, err := tests.GenerateTestDbName()
	if err != nil {
		return testDbName, nil, nil, err
	}
	cfg.DbName = testDbName

	pgConfig := PostgresConfigFromDbConfig(&cfg)
	pgConfig.CreateDbIfNotExists = true

	pg, err := NewPostgres(pgConfig, l)
	if err != nil {
		return testDbName, nil, nil, err
	}

	grm, err := NewGormFromPostgresConnection(pg.Db)
	if err != nil {
		return testDbName, nil, nil, err
	}
	return testDbName, pg.Db, grm, nil
}

// GetTestPostgresDatabaseForChains creates a test database and migrates a schema for each of the given chains.
func GetTestPostgresDatabaseForChains(gCfg *config.Config, chains []config.Chain, l *zap.Logger) (string, *sql.DB, *gorm.DB, error) {
	testDbName, pg, grm, err := GetTestPostgresDatabaseWithoutMigrations(gCfg.DatabaseConfig, l)
	if err != nil {
		return testDbName, nil, nil, err
	}

	gCfg.Chains = chains
	if err = migrations.NewMigrator(pg, grm, l, gCfg).MigrateAll(); err != nil {
		return testDbName, nil, nil, err
	}
	return testDbName, pg, grm, nil
}

// TeardownTestDatabase closes the test connection and drops its database.
func TeardownTestDatabase(dbName string, cfg *config.Config, db *gorm.DB, l *zap.Logger) {
	if rawDb, err := db.DB(); err == nil {
		_ = rawDb.Close()
	}

	if err := DropDatabase(PostgresConfigFromDbConfig(&cfg.DatabaseConfig), dbName, l); err != nil {
		l.Sugar().Errorw("Failed to delete test database", "error", err)
	}
}
