package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Dialect identifies the backing store.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect converts a driver name into a Dialect.
func ParseDialect(value string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unknown driver %q (want postgres or sqlite)", value)
	}
}

// Rebind rewrites ? placeholders into the dialect's bind style.
func (d Dialect) Rebind(query string) string {
	if d == Postgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// MaxParams is the number of bind parameters a single statement may carry.
func (d Dialect) MaxParams() int {
	if d == Postgres {
		return 65535
	}
	return 32766
}
