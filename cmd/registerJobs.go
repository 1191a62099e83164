package cmd

import (
	"context"
	"fmt"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/eventParser"
	"github.com/defi-indexer/historic-cache/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var registerJobsCmd = &cobra.Command{
	Use:   "register-jobs",
	Short: "Insert pending jobs for adapter events that are not tracked yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		initSubCommand(cmd)
		cfg := config.NewConfig()

		ctx := context.Background()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		provider := newEventInterestProvider(cfg, l)
		if provider == nil {
			return fmt.Errorf("--%s is required", config.AdaptersFile)
		}

		sink, err := setupMetricsSink(cfg, l)
		if err != nil {
			return err
		}

		pg, grm, err := setupDatabase(cfg, l)
		if err != nil {
			return err
		}
		defer pg.Db.Close()

		parser, err := eventParser.NewParser(eventParser.DefaultSignatureCacheSize, l)
		if err != nil {
			return fmt.Errorf("failed to create event parser: %w", err)
		}

		for _, chain := range cfg.Chains {
			c, err := newChainComponents(ctx, cfg, chain, grm, provider, parser, sink, l)
			if err != nil {
				return fmt.Errorf("failed to setup chain '%s': %w", chain.String(), err)
			}

			inserted, err := c.registrar.RegisterNewJobs(ctx)
			c.client.Close()
			if err != nil {
				return fmt.Errorf("failed to register jobs for chain '%s': %w", chain.String(), err)
			}
			l.Sugar().Infow("Registered jobs", zap.String("chain", chain.String()), zap.Int64("inserted", inserted))
		}
		sink.Flush()
		return nil
	},
}
