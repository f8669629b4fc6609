package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/ingestflow/internal/metrics"
)

// Runner executes units of work inside a transaction. A unit commits when its
// function returns nil and rolls back on error or panic; every store
// operation of the system goes through a Runner.
type Runner struct {
	db  *DB
	log zerolog.Logger
}

// NewRunner returns a Runner over db.
func NewRunner(db *DB, log zerolog.Logger) *Runner {
	return &Runner{db: db, log: log}
}

// DB returns the underlying store handle.
func (r *Runner) DB() *DB { return r.db }

// Run executes fn in a transaction opened in the given mode. On SQLite a unit
// that fails with lock contention is rolled back and run again, so fn must
// not leave side effects outside the session on failure.
func (r *Runner) Run(ctx context.Context, mode Mode, fn func(ctx context.Context, s Session) error) error {
	start := time.Now()
	var err error
	if r.db.dialect == SQLite {
		err = retryOnBusy(ctx, func() error { return r.runOnce(ctx, mode, fn) })
	} else {
		err = r.runOnce(ctx, mode, fn)
	}

	m := metrics.Get()
	m.TxDuration.WithLabelValues(mode.String(), metrics.Result(err)).Observe(time.Since(start).Seconds())
	m.TxTotal.WithLabelValues(mode.String(), metrics.Result(err)).Inc()
	return err
}

func (r *Runner) runOnce(ctx context.Context, mode Mode, fn func(ctx context.Context, s Session) error) error {
	conn, err := r.db.x.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, r.db.locker.Begin(mode)); err != nil {
		return fmt.Errorf("begin %s: %w", mode, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, rbErr := conn.ExecContext(rbCtx, "ROLLBACK"); rbErr != nil {
			r.log.Warn().Err(rbErr).Str("mode", mode.String()).Msg("rollback failed, discarding connection")
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	s := &session{conn: conn, dialect: r.db.dialect, locker: r.db.locker}
	if err := fn(ctx, s); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
