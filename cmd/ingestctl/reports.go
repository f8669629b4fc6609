package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyeh/ingestflow/internal/model"
)

var reportOpts struct {
	json bool
}

var progressCmd = &cobra.Command{
	Use:   "progress <ingest-id>",
	Short: "Show task and item counts by stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgress,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <ingest-id>",
	Short: "Show aggregate counts for the ingest",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummary,
}

var reportCmd = &cobra.Command{
	Use:   "report <ingest-id>",
	Short: "Show status, time per status and recorded errors",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var treeCmd = &cobra.Command{
	Use:   "tree <ingest-id>",
	Short: "Show the container hierarchy with item counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runTree,
}

func init() {
	for _, c := range []*cobra.Command{progressCmd, summaryCmd, reportCmd, treeCmd} {
		c.Flags().BoolVar(&reportOpts.json, "json", false, "Print JSON instead of a table")
		rootCmd.AddCommand(c)
	}
}

var itemStages = []string{
	model.StageScanned, model.StageSkipped, model.StagePending, model.StageRunning,
	model.StageCompleted, model.StageFailed, model.StageCanceled,
}

func runProgress(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	p, err := a.client(args[0]).Progress(a.ctx)
	if err != nil {
		a.fatal(err, "progress failed")
	}
	if reportOpts.json {
		return printJSON(p)
	}

	fmt.Printf("Status: %s\n", p.Status)
	var taskRows [][]string
	for _, typ := range model.AllTaskTypes {
		counts, ok := p.Tasks[typ]
		if !ok {
			continue
		}
		row := []string{string(typ)}
		for _, st := range model.AllTaskStatuses {
			row = append(row, strconv.FormatInt(counts[st], 10))
		}
		taskRows = append(taskRows, row)
	}
	header := []string{"Task"}
	aligns := []columnAlignment{alignLeft}
	for _, st := range model.AllTaskStatuses {
		header = append(header, string(st))
		aligns = append(aligns, alignRight)
	}
	fmt.Println(renderTable(header, taskRows, aligns))

	var stageRows [][]string
	for _, s := range itemStages {
		if c, ok := p.Stages[s]; ok {
			stageRows = append(stageRows, stageRow(s, c))
		}
	}
	stageRows = append(stageRows, stageRow("total", p.Total))
	fmt.Println(renderTable([]string{"Stage", "Items", "Files", "Bytes"}, stageRows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))
	return nil
}

func stageRow(name string, c model.StageCount) []string {
	return []string{name, strconv.FormatInt(c.Items, 10), strconv.FormatInt(c.Files, 10), strconv.FormatInt(c.Bytes, 10)}
}

func runSummary(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	s, err := a.client(args[0]).Summary(a.ctx)
	if err != nil {
		a.fatal(err, "summary failed")
	}
	if reportOpts.json {
		return printJSON(s)
	}

	rows := [][]string{
		{"items", strconv.FormatInt(s.Items, 10)},
		{"files", strconv.FormatInt(s.Files, 10)},
		{"bytes", strconv.FormatInt(s.Bytes, 10)},
		{"skipped", strconv.FormatInt(s.Skipped, 10)},
		{"existing", strconv.FormatInt(s.Existing, 10)},
		{"subjects", strconv.FormatInt(s.Subjects, 10)},
	}
	levels := make([]int, 0, len(s.ContainersByLevel))
	for l := range s.ContainersByLevel {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	for _, l := range levels {
		rows = append(rows, []string{fmt.Sprintf("containers (level %d)", l), strconv.FormatInt(s.ContainersByLevel[l], 10)})
	}
	codes := make([]string, 0, len(s.ErrorsByCode))
	for c := range s.ErrorsByCode {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		rows = append(rows, []string{"errors " + c, strconv.FormatInt(s.ErrorsByCode[c], 10)})
	}
	fmt.Println(renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	r, err := a.client(args[0]).Report(a.ctx)
	if err != nil {
		a.fatal(err, "report failed")
	}
	if reportOpts.json {
		return printJSON(r)
	}

	fmt.Printf("Status: %s, %d errors\n", r.Status, r.ErrorCount)
	var rows [][]string
	for _, e := range r.Elapsed {
		rows = append(rows, []string{string(e.Status), e.Started.Format(time.RFC3339), e.Duration.Round(time.Second).String()})
	}
	fmt.Println(renderTable([]string{"Status", "Started", "Elapsed"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))

	if len(r.Errors) > 0 {
		rows = rows[:0]
		for _, e := range r.Errors {
			rows = append(rows, []string{e.Path, e.Code, e.TaskType, e.Message})
		}
		fmt.Println(renderTable([]string{"Path", "Code", "Task", "Message"}, rows, nil))
	}
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	var nodes []*model.TreeNode
	for n, err := range a.client(args[0]).Tree(a.ctx) {
		if err != nil {
			a.fatal(err, "tree failed")
		}
		nodes = append(nodes, n)
	}
	if reportOpts.json {
		return printJSON(nodes)
	}

	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		existing := ""
		if n.Existing {
			existing = "yes"
		}
		rows = append(rows, []string{strings.Repeat("  ", n.Level) + n.Path, strconv.FormatInt(n.Items, 10), existing})
	}
	fmt.Println(renderTable([]string{"Container", "Items", "Existing"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
	return nil
}
