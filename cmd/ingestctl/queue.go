package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gyeh/ingestflow/internal/exitcode"
	"github.com/gyeh/ingestflow/internal/metrics"
	"github.com/gyeh/ingestflow/internal/model"
)

var nextTaskOpts struct {
	ingest string
	max    int64
}

var nextTaskCmd = &cobra.Command{
	Use:   "next-task",
	Short: "Claim the oldest pending task and print it as JSON",
	Args:  cobra.NoArgs,
	RunE:  runNextTask,
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Claim up to --max tasks, waiting for new ones, and report them",
	Long: `Claim pending tasks in a loop, log each claim, and exit after --max
claims (default 1; 0 claims until interrupted).

Claimed tasks are left running with this worker recorded on them. Executing
a task and marking it completed or failed is the job of the executor that
consumes this output; running tasks are never reclaimed, so do not claim
more than the executors will finish.`,
	Args: cobra.NoArgs,
	RunE:  runWork,
}

func init() {
	for _, c := range []*cobra.Command{nextTaskCmd, workCmd} {
		f := c.Flags()
		f.StringVar(&cfg.Worker, "worker", cfg.Worker, "Worker name recorded on claimed tasks (default: hostname)")
		f.StringVar(&nextTaskOpts.ingest, "ingest", "", "Only claim tasks of this ingest")
	}
	wf := workCmd.Flags()
	wf.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Wait between claims when the queue is empty")
	wf.Int64Var(&nextTaskOpts.max, "max", 1, "Stop after this many claims (0 = until interrupted)")
	wf.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(nextTaskCmd, workCmd)
}

func workerName() string {
	if cfg.Worker != "" {
		return cfg.Worker
	}
	host, err := os.Hostname()
	if err != nil {
		return "ingestctl"
	}
	return host
}

// claim takes one task for worker, scoped to --ingest when given.
func (a *app) claim(ctx context.Context, worker string) (*model.Task, error) {
	if nextTaskOpts.ingest != "" {
		return a.client(nextTaskOpts.ingest).NextTask(ctx, worker)
	}
	return a.svc.NextTask(ctx, worker)
}

func runNextTask(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	task, err := a.claim(a.ctx, workerName())
	if err != nil {
		a.fatal(err, "claim failed")
	}
	if task == nil {
		a.log.Info().Msg("no task available")
		a.Close()
		os.Exit(exitcode.NoTask)
	}
	return printJSON(task)
}

func runWork(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	worker := workerName()
	if cfg.MetricsAddr != "" {
		metrics.Get()
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
		a.log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	a.log.Info().Str("worker", worker).Int64("max", nextTaskOpts.max).Dur("poll_interval", cfg.PollInterval).Msg("worker started")
	claimed := claimLoop(a.ctx, a.log, func(ctx context.Context) (*model.Task, error) {
		return a.claim(ctx, worker)
	}, nextTaskOpts.max, cfg.PollInterval)
	a.log.Info().Int64("claimed", claimed).Msg("worker stopped")
	return nil
}

// claimLoop claims until limit tasks were taken (limit <= 0 means none) or
// ctx ends, sleeping poll between empty or failed claims. It returns the
// number of tasks claimed.
func claimLoop(ctx context.Context, log zerolog.Logger, claim func(context.Context) (*model.Task, error), limit int64, poll time.Duration) int64 {
	var claimed int64
	for limit <= 0 || claimed < limit {
		task, err := claim(ctx)
		switch {
		case ctx.Err() != nil:
			return claimed
		case err != nil:
			log.Error().Err(err).Msg("claim failed")
		case task != nil:
			claimed++
			log.Info().
				Str("task_id", task.ID.String()).
				Str("ingest_id", task.IngestID.String()).
				Str("type", string(task.Type)).
				Msg("task claimed")
			continue
		}
		if !sleepWithContext(ctx, poll) {
			return claimed
		}
	}
	return claimed
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
