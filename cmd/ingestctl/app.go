package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/exitcode"
	"github.com/gyeh/ingestflow/internal/ingest"
	"github.com/gyeh/ingestflow/internal/logging"
	"github.com/gyeh/ingestflow/internal/store"
)

// app bundles what every store-backed command needs.
type app struct {
	ctx  context.Context
	log  zerolog.Logger
	db   *db.DB
	svc  *ingest.Service
	stop context.CancelFunc
}

// openApp validates the config and connects to the store, exiting with the
// matching code on failure.
func openApp() *app {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	d, err := db.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		stop()
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	runner := db.NewRunner(d, log)
	return &app{
		ctx:  ctx,
		log:  log,
		db:   d,
		svc:  ingest.NewService(runner, log, cfg.PageSize),
		stop: stop,
	}
}

func (a *app) Close() {
	a.stop()
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close database")
	}
}

// fatal logs err and exits with the code of its failure class.
func (a *app) fatal(err error, msg string) {
	a.log.Error().Err(err).Msg(msg)
	a.Close()
	os.Exit(exitCode(err))
}

// invalid logs a bad argument or input file and exits.
func (a *app) invalid(err error, msg string) {
	a.log.Error().Err(err).Msg(msg)
	a.Close()
	os.Exit(exitcode.ValidationError)
}

// client parses an ingest id argument.
func (a *app) client(arg string) *ingest.Client {
	id, err := uuid.Parse(arg)
	if err != nil {
		a.log.Error().Err(err).Str("arg", arg).Msg("invalid ingest id")
		a.Close()
		os.Exit(exitcode.UsageError)
	}
	return a.svc.Ingest(id)
}

func exitCode(err error) int {
	var te *ingest.TransitionError
	switch {
	case errors.As(err, &te), errors.Is(err, ingest.ErrPrecondition):
		return exitcode.Precondition
	case errors.Is(err, ingest.ErrNotFound):
		return exitcode.NotFound
	case errors.Is(err, ingest.ErrUnknownKind),
		errors.Is(err, ingest.ErrInvalidStatus),
		errors.Is(err, store.ErrInvalidColumn):
		return exitcode.ValidationError
	default:
		return exitcode.StoreError
	}
}
