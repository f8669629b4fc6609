package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/ingestflow/internal/config"
	"github.com/gyeh/ingestflow/internal/exitcode"
)

// cfg starts from the INGEST_* environment; flags override it.
var cfg, cfgErr = config.Load()

var rootCmd = &cobra.Command{
	Use:   "ingestctl",
	Short: "Drive batch ingests: lifecycle, task queue, subjects and reports",
	Long: "Creates ingests and moves them through their lifecycle, hands tasks to workers, " +
		"issues subject codes and renders progress, reports and exports from a Postgres or SQLite store.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgErr != nil {
			fmt.Fprintln(os.Stderr, cfgErr)
			os.Exit(exitcode.UsageError)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres URL or SQLite file path (or set INGEST_DSN)")
	pf.StringVar(&cfg.Driver, "driver", cfg.Driver, "Store driver: postgres or sqlite (inferred from --dsn when empty)")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	pf.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Rows fetched per page by paginated reads")
}
