package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "historic-cache",
	Short: "Backfills a cache of which user addresses interacted with which DeFi contracts, across EVM chains",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().String(config.Chains, "", `Comma separated chain names or ids to process, e.g. "ethereum,56,base"`)

	rootCmd.PersistentFlags().String(config.EthereumRpcUrls, "", `Comma separated chain=url pairs, e.g. "1=http://<hostname>:8545,bsc=https://<hostname>"`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcCallTimeoutMs, int(config.DefaultCallTimeout.Milliseconds()), `Timeout for a single eth_call in milliseconds`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcCallMaxRetries, config.DefaultCallMaxRetries, `Times an eth_call is retried after a timeout`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcGetLogsTimeoutMs, int(config.DefaultGetLogsTimeout.Milliseconds()), `Timeout for a single eth_getLogs in milliseconds`)
	rootCmd.PersistentFlags().Int(config.EthereumRpcGetLogsMaxRetries, config.DefaultGetLogsMaxRetries, `Times an eth_getLogs is retried after a timeout`)

	rootCmd.PersistentFlags().Int(config.MulticallFlushTimeoutMs, int(config.DefaultFlushTimeout.Milliseconds()), `Idle window in milliseconds before queued calls are sent as one multicall`)
	rootCmd.PersistentFlags().Int(config.MulticallMaxBatchSize, config.DefaultMaxBatchSize, `Maximum number of calls in one multicall`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "historic_cache", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "historic_cache", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL SSL mode`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLCert, "", `Path to the client certificate`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLKey, "", `Path to the client key`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLRootCert, "", `Path to the root certificate`)

	rootCmd.PersistentFlags().String(config.AdaptersFile, "", `Path to the YAML file declaring the events each protocol adapter tracks`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `Sample rate for statsd metrics`)
	rootCmd.PersistentFlags().Bool(config.DataDogEnableTracing, false, `e.g. "true" or "false"`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	// setup sub commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(registerJobsCmd)
	rootCmd.AddCommand(runDatabaseCmd)
	rootCmd.AddCommand(queryCmd)

	// bind any subcommand flags
	runCmd.PersistentFlags().Int(config.CacheBuilderPollIntervalSeconds, int(config.DefaultPollInterval.Seconds()), `Seconds to wait before looking for work again when there are no unfinished jobs`)
	runCmd.PersistentFlags().Int(config.CacheBuilderGroupDelayMs, int(config.DefaultGroupDelay.Milliseconds()), `Milliseconds to wait between groups of jobs`)
	runCmd.PersistentFlags().Bool(config.CacheBuilderRegisterOnStart, false, `Register new jobs from the adapters file before starting`)

	queryCmd.PersistentFlags().String(queryOutputFlag, "table", `Output format, "table" or "csv"`)
	queryAddressPoolsCmd.Flags().String(queryAddressFlag, "", `User address to look up`)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}

// initSubCommand binds the flags declared on a sub command the same way the root flags are bound.
func initSubCommand(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(config.KebabToSnakeCase(f.Name)); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
