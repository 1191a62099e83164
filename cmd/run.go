package cmd

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/internal/tracer"
	"github.com/defi-indexer/historic-cache/pkg/eventParser"
	"github.com/defi-indexer/historic-cache/pkg/logger"
	"github.com/defi-indexer/historic-cache/pkg/metrics/prometheus"
	"github.com/defi-indexer/historic-cache/pkg/shutdown"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cache builder for every configured chain",
	Run: func(cmd *cobra.Command, args []string) {
		initSubCommand(cmd)
		cfg := config.NewConfig()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}

		l.Sugar().Infow("historic-cache",
			zap.Int("chains", len(cfg.Chains)),
			zap.Duration("pollInterval", cfg.CacheBuilderConfig.PollInterval),
			zap.Bool("registerOnStart", cfg.CacheBuilderConfig.RegisterOnStart),
		)

		tracer.StartTracer(cfg.DataDogConfig.EnableTracing, "")
		defer tracer.StopTracer()

		sink, err := setupMetricsSink(cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup metrics sink", zap.Error(err))
		}

		pg, grm, err := setupDatabase(cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup database", zap.Error(err))
		}
		defer pg.Db.Close()

		parser, err := eventParser.NewParser(eventParser.DefaultSignatureCacheSize, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to create event parser", zap.Error(err))
		}

		provider := newEventInterestProvider(cfg, l)
		if cfg.CacheBuilderConfig.RegisterOnStart && provider == nil {
			l.Sugar().Fatalw("Registering jobs on start requires an adapters file", zap.String("flag", config.AdaptersFile))
		}

		components := make([]*chainComponents, 0, len(cfg.Chains))
		for _, chain := range cfg.Chains {
			c, err := newChainComponents(ctx, cfg, chain, grm, provider, parser, sink, l)
			if err != nil {
				l.Sugar().Fatalw("Failed to setup chain", zap.String("chain", chain.String()), zap.Error(err))
			}
			components = append(components, c)

			if cfg.CacheBuilderConfig.RegisterOnStart {
				if _, err := c.registrar.RegisterNewJobs(ctx); err != nil {
					l.Sugar().Fatalw("Failed to register new jobs", zap.String("chain", chain.String()), zap.Error(err))
				}
			}
		}

		wg := sync.WaitGroup{}
		for _, c := range components {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.builder.Start(ctx)
			}()
		}

		promChan := make(chan bool, 1)
		if cfg.PrometheusConfig.Enabled {
			pServer := prometheus.NewPrometheusServer(&prometheus.PrometheusServerConfig{
				Port: cfg.PrometheusConfig.Port,
			}, l)
			if err := pServer.Start(promChan); err != nil {
				l.Sugar().Fatalw("Failed to start prometheus server", zap.Error(err))
			}
		}

		l.Sugar().Info("Started historic-cache")

		gracefulShutdown := shutdown.CreateGracefulShutdownChannel()

		done := make(chan bool)
		shutdown.ListenForShutdown(gracefulShutdown, done, func() {
			l.Sugar().Info("Shutting down...")
			cancel()
			wg.Wait()
			for _, c := range components {
				c.multicall.Flush(context.Background())
				c.client.Close()
			}
			sink.Flush()
			promChan <- true
		}, time.Second*5, l)
	},
}
