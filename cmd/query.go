package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/defi-indexer/historic-cache/pkg/jobStore/postgresJobStore"
	"github.com/defi-indexer/historic-cache/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	queryOutputFlag  = "query.output"
	queryAddressFlag = "query.address"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Read from the cache",
}

var queryAddressPoolsCmd = &cobra.Command{
	Use:   "address-pools",
	Short: "List the contracts a user address has interacted with on every configured chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		initSubCommand(cmd)
		cfg := config.NewConfig()

		address := viper.GetString(config.KebabToSnakeCase(queryAddressFlag))
		if !common.IsHexAddress(address) {
			return fmt.Errorf("--%s must be a valid address, got '%s'", queryAddressFlag, address)
		}

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		pg, grm, err := setupDatabase(cfg, l)
		if err != nil {
			return err
		}
		defer pg.Db.Close()

		rows := make([]*addressPoolRow, 0)
		for _, chain := range cfg.Chains {
			pools, err := postgresJobStore.NewPostgresJobStore(grm, chain, l, cfg).GetAddressPools(address)
			if err != nil {
				return fmt.Errorf("failed to get address pools for chain '%s': %w", chain.String(), err)
			}
			for _, p := range pools {
				rows = append(rows, newAddressPoolRow(chain, p))
			}
		}
		return writeRows(os.Stdout, viper.GetString(config.KebabToSnakeCase(queryOutputFlag)), &rows)
	},
}

var queryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job and log counts for every configured chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		initSubCommand(cmd)
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		pg, grm, err := setupDatabase(cfg, l)
		if err != nil {
			return err
		}
		defer pg.Db.Close()

		rows := make([]*chainStatsRow, 0, len(cfg.Chains))
		for _, chain := range cfg.Chains {
			row, err := getChainStats(postgresJobStore.NewPostgresJobStore(grm, chain, l, cfg), chain)
			if err != nil {
				return fmt.Errorf("failed to get stats for chain '%s': %w", chain.String(), err)
			}
			rows = append(rows, row)
		}
		return writeRows(os.Stdout, viper.GetString(config.KebabToSnakeCase(queryOutputFlag)), &rows)
	},
}

func init() {
	queryCmd.AddCommand(queryAddressPoolsCmd)
	queryCmd.AddCommand(queryStatsCmd)
}

type addressPoolRow struct {
	Chain           string `csv:"chain"`
	ContractAddress string `csv:"contract_address"`
	MetadataKey     string `csv:"metadata_key"`
	MetadataValue   string `csv:"metadata_value"`
}

func newAddressPoolRow(chain config.Chain, p *jobStore.AddressPool) *addressPoolRow {
	row := &addressPoolRow{Chain: chain.String(), ContractAddress: p.ContractAddress}
	if p.MetadataKey != nil {
		row.MetadataKey = *p.MetadataKey
	}
	if p.MetadataValue != nil {
		row.MetadataValue = *p.MetadataValue
	}
	return row
}

type chainStatsRow struct {
	Chain                string `csv:"chain"`
	PendingJobs          int64  `csv:"pending_jobs"`
	FailedJobs           int64  `csv:"failed_jobs"`
	CompletedJobs        int64  `csv:"completed_jobs"`
	Logs                 int64  `csv:"logs"`
	LatestBlockProcessed string `csv:"latest_block_processed"`
}

func getChainStats(store jobStore.JobStore, chain config.Chain) (*chainStatsRow, error) {
	row := &chainStatsRow{Chain: chain.String()}

	counts, err := store.GetJobStatusCounts()
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		switch c.Status {
		case jobStore.JobStatus_Pending:
			row.PendingJobs = c.Count
		case jobStore.JobStatus_Failed:
			row.FailedJobs = c.Count
		case jobStore.JobStatus_Completed:
			row.CompletedJobs = c.Count
		}
	}

	if row.Logs, err = store.GetLogCount(); err != nil {
		return nil, err
	}

	latest, found, err := store.GetLatestBlockProcessed()
	if err != nil {
		return nil, err
	}
	if found {
		row.LatestBlockProcessed = fmt.Sprintf("%d", latest)
	}
	return row, nil
}

// writeRows renders rows as CSV, or as aligned columns for the "table" format.
func writeRows(out io.Writer, format string, rows interface{}) error {
	switch format {
	case "csv":
		return gocsv.Marshal(rows, out)
	case "table", "":
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		w := csv.NewWriter(tw)
		w.Comma = '\t'
		if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(w)); err != nil {
			return err
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format '%s'", format)
	}
}
