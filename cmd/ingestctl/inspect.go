package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gyeh/ingestflow/internal/exitcode"
	"github.com/gyeh/ingestflow/internal/export"
	"github.com/gyeh/ingestflow/internal/logging"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <audit.parquet>",
	Short: "Summarise an exported audit file without touching the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)

	r, err := export.Open(args[0])
	if err != nil {
		log.Error().Err(err).Msg("failed to open audit file")
		os.Exit(exitcode.ValidationError)
	}
	defer r.Close()

	byStatus := map[string]int64{}
	var existing, withErrors int64
	for row, err := range r.Rows(export.DefaultBatchSize) {
		if err != nil {
			log.Error().Err(err).Msg("failed to read audit file")
			r.Close()
			os.Exit(exitcode.ValidationError)
		}
		byStatus[row.Status]++
		if row.Existing {
			existing++
		}
		if row.Errors != "" {
			withErrors++
		}
	}

	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	rows := make([][]string, 0, len(statuses)+3)
	for _, s := range statuses {
		rows = append(rows, []string{s, strconv.FormatInt(byStatus[s], 10)})
	}
	rows = append(rows,
		[]string{"existing", strconv.FormatInt(existing, 10)},
		[]string{"with errors", strconv.FormatInt(withErrors, 10)},
		[]string{"total", strconv.FormatInt(r.NumRows(), 10)},
	)
	fmt.Println(renderTable([]string{"Items", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}
