package cmd

import (
	"context"
	"fmt"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/cacheBuilder"
	"github.com/defi-indexer/historic-cache/pkg/clients/ethereum"
	"github.com/defi-indexer/historic-cache/pkg/eventInterests"
	"github.com/defi-indexer/historic-cache/pkg/eventParser"
	"github.com/defi-indexer/historic-cache/pkg/jobRegistrar"
	"github.com/defi-indexer/historic-cache/pkg/jobStore/postgresJobStore"
	"github.com/defi-indexer/historic-cache/pkg/logFetcher"
	"github.com/defi-indexer/historic-cache/pkg/metrics"
	"github.com/defi-indexer/historic-cache/pkg/multicall"
	"github.com/defi-indexer/historic-cache/pkg/postgres"
	"github.com/defi-indexer/historic-cache/pkg/postgres/migrations"
	"github.com/defi-indexer/historic-cache/pkg/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// setupDatabase connects to postgres and migrates every configured chain.
func setupDatabase(cfg *config.Config, l *zap.Logger) (*postgres.Postgres, *gorm.DB, error) {
	if len(cfg.Chains) == 0 {
		return nil, nil, fmt.Errorf("at least one chain must be configured with --%s", config.Chains)
	}

	pgConfig := postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig)
	pgConfig.CreateDbIfNotExists = true

	pg, err := postgres.NewPostgres(pgConfig, l)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup postgres connection: %w", err)
	}

	grm, err := postgres.NewGormFromPostgresConnection(pg.Db)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gorm instance: %w", err)
	}

	migrator := migrations.NewMigrator(pg.Db, grm, l, cfg)
	if err = migrator.MigrateAll(); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return pg, grm, nil
}

func setupMetricsSink(cfg *config.Config, l *zap.Logger) (*metrics.MetricsSink, error) {
	metricsClients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to setup metrics clients: %w", err)
	}
	return metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, metricsClients)
}

// chainComponents is everything that works against a single chain.
type chainComponents struct {
	chain     config.Chain
	client    *ethereum.Client
	store     *postgresJobStore.PostgresJobStore
	multicall *multicall.MulticallQueue
	registrar *jobRegistrar.JobRegistrar
	builder   *cacheBuilder.CacheBuilder
}

func newChainComponents(
	ctx context.Context,
	cfg *config.Config,
	chain config.Chain,
	grm *gorm.DB,
	provider eventInterests.EventInterestProvider,
	parser *eventParser.Parser,
	sink *metrics.MetricsSink,
	l *zap.Logger,
) (*chainComponents, error) {
	ethCfg, err := ethereum.ConvertGlobalConfigToEthereumConfig(cfg, chain)
	if err != nil {
		return nil, err
	}
	client, err := ethereum.NewClient(ethCfg, l)
	if err != nil {
		return nil, err
	}
	if err := client.VerifyChainId(ctx); err != nil {
		client.Close()
		return nil, err
	}

	callRetrier := retry.NewRetrier(fmt.Sprintf("%s.call", chain.String()), cfg.EthereumRpcConfig.CallTimeout, cfg.EthereumRpcConfig.CallMaxRetries, l)
	logsRetrier := retry.NewRetrier(fmt.Sprintf("%s.getLogs", chain.String()), cfg.EthereumRpcConfig.GetLogsTimeout, cfg.EthereumRpcConfig.GetLogsMaxRetries, l)

	store := postgresJobStore.NewPostgresJobStore(grm, chain, l, cfg)

	mc := multicall.NewMulticallQueue(&multicall.MulticallQueueConfig{
		Chain:        chain,
		FlushTimeout: cfg.MulticallConfig.FlushTimeout,
		MaxBatchSize: cfg.MulticallConfig.MaxBatchSize,
	}, client, callRetrier, sink, l)

	fetcher := logFetcher.NewLogFetcher(chain, client, logsRetrier, sink, l)

	var registrar *jobRegistrar.JobRegistrar
	if provider != nil {
		registrar = jobRegistrar.NewJobRegistrar(chain, provider, store, client, parser, sink, l).
			WithTokenProbe(jobRegistrar.NewTokenProbe(mc, l))
	}

	builder := cacheBuilder.NewCacheBuilder(chain, cacheBuilder.CacheBuilderConfigFromConfig(cfg, chain), store, fetcher, parser, sink, l)

	return &chainComponents{
		chain:     chain,
		client:    client,
		store:     store,
		multicall: mc,
		registrar: registrar,
		builder:   builder,
	}, nil
}

func newEventInterestProvider(cfg *config.Config, l *zap.Logger) eventInterests.EventInterestProvider {
	if cfg.AdaptersConfig.File == "" {
		return nil
	}
	return eventInterests.NewYamlEventInterestProvider(cfg.AdaptersConfig.File, l)
}
