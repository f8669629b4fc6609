package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gyeh/ingestflow/internal/ingest"
	"github.com/gyeh/ingestflow/internal/model"
)

// transitionCmd builds a command that applies op to the ingest named by the
// first argument and prints the resulting status.
func transitionCmd(use, short string, op func(c *ingest.Client, ctx context.Context) (*model.Ingest, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <ingest-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := openApp()
			defer a.Close()

			ing, err := op(a.client(args[0]), a.ctx)
			if err != nil {
				a.fatal(err, use+" failed")
			}
			fmt.Printf("%s %s\n", ing.ID, ing.Status)
			return nil
		},
	}
}

var reviewOpts struct {
	skip    []string
	context []string
}

var reviewCmd = &cobra.Command{
	Use:   "review <ingest-id>",
	Short: "Accept the review and start preparing",
	Args:  cobra.ExactArgs(1),
	RunE:  runReview,
}

var statusCmd = &cobra.Command{
	Use:   "status <ingest-id> <status>",
	Short: "Set the ingest status unconditionally",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(
		transitionCmd("start", "Start scanning a created ingest", (*ingest.Client).Start),
		transitionCmd("abort", "Abort the ingest and cancel its pending tasks", (*ingest.Client).Abort),
		transitionCmd("fail", "Mark the ingest failed and cancel its pending tasks", (*ingest.Client).Fail),
		transitionCmd("resolve", "Enter the resolving stage once all tasks are done", (*ingest.Client).StartResolving),
		transitionCmd("detect-duplicates", "Enter duplicate detection once all tasks are done", (*ingest.Client).StartDetectingDuplicates),
		transitionCmd("finalize", "Enter the finalizing stage once all tasks are done", (*ingest.Client).StartFinalizing),
	)

	f := reviewCmd.Flags()
	f.StringSliceVar(&reviewOpts.skip, "skip", nil, "Source path to skip (repeatable)")
	f.StringArrayVar(&reviewOpts.context, "context", nil, "Context override as path=JSON (repeatable)")
	rootCmd.AddCommand(reviewCmd, statusCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	var changes []ingest.ReviewChange
	for _, p := range reviewOpts.skip {
		changes = append(changes, ingest.ReviewChange{Path: p, Skip: true})
	}
	for _, kv := range reviewOpts.context {
		path, doc, ok := strings.Cut(kv, "=")
		if !ok || !json.Valid([]byte(doc)) {
			a.invalid(fmt.Errorf("--context %q must be path=JSON", kv), "invalid review change")
		}
		changes = append(changes, ingest.ReviewChange{Path: path, Context: json.RawMessage(doc)})
	}

	ing, err := a.client(args[0]).Review(a.ctx, changes...)
	if err != nil {
		a.fatal(err, "review failed")
	}
	fmt.Printf("%s %s\n", ing.ID, ing.Status)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	ing, err := a.client(args[0]).SetStatus(a.ctx, model.IngestStatus(args[1]))
	if err != nil {
		a.fatal(err, "status failed")
	}
	fmt.Printf("%s %s\n", ing.ID, ing.Status)
	return nil
}
