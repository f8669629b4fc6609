package main

import (
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/ingestflow/internal/export"
	"github.com/gyeh/ingestflow/internal/ingest"
)

var exportOpts struct {
	out    string
	format string
	fields []string
}

var auditCmd = &cobra.Command{
	Use:   "audit <ingest-id>",
	Short: "Export the per-item audit log as CSV or Parquet",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

var deidLogsCmd = &cobra.Command{
	Use:   "deid-logs <ingest-id>",
	Short: "Export de-identification logs as CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeidLogs,
}

var subjectsCmd = &cobra.Command{
	Use:   "subjects <ingest-id>",
	Short: "Export issued subject codes as CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubjects,
}

func init() {
	for _, c := range []*cobra.Command{auditCmd, deidLogsCmd, subjectsCmd} {
		c.Flags().StringVarP(&exportOpts.out, "out", "o", "", "Output file (default: stdout)")
		rootCmd.AddCommand(c)
	}
	auditCmd.Flags().StringVar(&exportOpts.format, "format", "csv", "Output format: csv or parquet")
	deidLogsCmd.Flags().StringSliceVar(&exportOpts.fields, "fields", nil, "De-identified fields to report (required)")
	_ = deidLogsCmd.MarkFlagRequired("fields")
}

// output opens the export destination.
func (a *app) output() io.WriteCloser {
	if exportOpts.out == "" {
		return nopCloser{os.Stdout}
	}
	f, err := os.Create(exportOpts.out)
	if err != nil {
		a.invalid(err, "create output file")
	}
	return f
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (a *app) writeCSV(seq iter.Seq2[[]string, error], what string) {
	w := a.output()
	n, err := ingest.WriteCSV(w, seq)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	if err != nil {
		a.fatal(err, what+" export failed")
	}
	a.log.Info().Int("records", n).Str("export", what).Msg("export written")
}

func runAudit(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()
	c := a.client(args[0])

	switch exportOpts.format {
	case "csv":
		a.writeCSV(c.AuditLogs(a.ctx), "audit")
	case "parquet":
		if exportOpts.out == "" {
			a.invalid(fmt.Errorf("--out is required for parquet"), "invalid flags")
		}
		w := a.output()
		n, err := export.WriteAuditParquet(w, c.AuditRows(a.ctx))
		if cerr := w.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
		if err != nil {
			a.fatal(err, "audit export failed")
		}
		a.log.Info().Int64("rows", n).Str("path", exportOpts.out).Msg("export written")
	default:
		a.invalid(fmt.Errorf("unknown format %q", exportOpts.format), "invalid flags")
	}
	return nil
}

func runDeidLogs(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()
	a.writeCSV(a.client(args[0]).DeidLogs(a.ctx, ingest.FieldList(exportOpts.fields)), "deid-logs")
	return nil
}

func runSubjects(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()
	a.writeCSV(a.client(args[0]).Subjects(a.ctx), "subjects")
	return nil
}
