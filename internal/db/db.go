package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

// DB is a handle on one of the supported stores.
type DB struct {
	x       *sqlx.DB
	dialect Dialect
	locker  Locker
	pool    *pgxpool.Pool
}

// Open connects to the store named by driver. An empty driver is inferred
// from the DSN: postgres:// and postgresql:// URLs select Postgres, anything
// else is treated as a SQLite file path.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver == "" {
		driver = string(SQLite)
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			driver = string(Postgres)
		}
	}
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if dialect == Postgres {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(ctx, dsn)
}

// Dialect reports which store the handle talks to.
func (d *DB) Dialect() Dialect { return d.dialect }

// Locker returns the locking strategy for the store.
func (d *DB) Locker() Locker { return d.locker }

// Close releases every connection held by the handle.
func (d *DB) Close() error {
	err := d.x.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}
