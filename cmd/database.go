package cmd

import (
	"fmt"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/logger"
	"github.com/spf13/cobra"
)

var runDatabaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Create the database if needed and run migrations for every configured chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		initSubCommand(cmd)
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		pg, _, err := setupDatabase(cfg, l)
		if err != nil {
			return err
		}
		defer pg.Db.Close()

		l.Sugar().Infow("Database migrated")
		return nil
	},
}
