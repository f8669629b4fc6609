package db

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/rs/zerolog"

	embedsql "github.com/gyeh/ingestflow/internal/sql"
)

// ApplyMigrations runs the embedded migrations for the store's dialect in
// filename order. All DDL uses IF NOT EXISTS so migrations are idempotent.
func ApplyMigrations(ctx context.Context, d *DB, log zerolog.Logger) error {
	dir := "migrations/" + string(d.dialect)
	entries, err := fs.ReadDir(embedsql.Migrations, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		data, err := fs.ReadFile(embedsql.Migrations, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		log.Info().Str("migration", name).Str("dialect", string(d.dialect)).Msg("applying migration")
		if d.pool != nil {
			_, err = d.pool.Exec(ctx, string(data))
		} else {
			_, err = d.x.ExecContext(ctx, string(data))
		}
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		applied++
	}

	log.Info().Int("count", applied).Msg("all migrations applied")
	return nil
}
