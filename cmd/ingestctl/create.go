package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gyeh/ingestflow/internal/config"
	"github.com/gyeh/ingestflow/internal/ingest"
	"github.com/gyeh/ingestflow/internal/model"
)

var createOpts struct {
	label    string
	config   string
	strategy string
	apiKey   string
	user     string
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new ingest",
	Args:  cobra.NoArgs,
	RunE:  runCreate,
}

var listOpts struct {
	apiKey string
	status string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingests in creation order",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	f := createCmd.Flags()
	f.StringVar(&createOpts.label, "label", "", "Human readable label")
	f.StringVar(&createOpts.config, "config", "", "YAML ingest config (subject_config, scanner settings)")
	f.StringVar(&createOpts.strategy, "strategy", "", "YAML strategy config")
	f.StringVar(&createOpts.apiKey, "api-key", os.Getenv("INGEST_API_KEY"), "API key the ingest is created under")
	f.StringVar(&createOpts.user, "user", os.Getenv("USER"), "User recorded on the ingest")
	rootCmd.AddCommand(createCmd)

	lf := listCmd.Flags()
	lf.StringVar(&listOpts.apiKey, "api-key", "", "Only ingests created under this API key")
	lf.StringVar(&listOpts.status, "status", "", "Only ingests in this status")
	rootCmd.AddCommand(listCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	doc, err := config.LoadDocument(createOpts.config)
	if err != nil {
		a.invalid(err, "invalid ingest config")
	}
	strategy, err := config.LoadDocument(createOpts.strategy)
	if err != nil {
		a.invalid(err, "invalid strategy config")
	}
	host, _ := os.Hostname()

	ing, err := a.svc.CreateIngest(a.ctx, ingest.CreateParams{
		Label:          createOpts.label,
		Config:         doc,
		StrategyConfig: strategy,
		Auth:           ingest.Auth{APIKey: createOpts.apiKey, Host: host, User: createOpts.user},
	})
	if err != nil {
		a.fatal(err, "create failed")
	}
	fmt.Println(ing.ID)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	filter := ingest.ListFilter{APIKey: listOpts.apiKey}
	if listOpts.status != "" {
		status, err := model.ParseIngestStatus(listOpts.status)
		if err != nil {
			a.invalid(err, "invalid --status")
		}
		filter.Status = status
	}

	var rows [][]string
	for ing, err := range a.svc.ListIngests(a.ctx, filter) {
		if err != nil {
			a.fatal(err, "list failed")
		}
		entries, _ := ing.Entries()
		rows = append(rows, []string{
			ing.ID.String(), ing.Label, string(ing.Status), ing.User,
			ing.CreatedAt.Format("2006-01-02 15:04:05"), strconv.Itoa(len(entries)),
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Label", "Status", "User", "Created", "Transitions"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	return nil
}
