package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// NewPool creates a pgxpool with session-level params suitable for long
// bulk writes.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	// Bulk inserts of large scans can outlive a server-side statement timeout.
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = "0"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// OpenPostgres connects to Postgres and exposes the pool through database/sql.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	x := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	return &DB{x: x, dialect: Postgres, locker: RowLocker{}, pool: pool}, nil
}
