package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/rs/zerolog"

	"github.com/gyeh/ingestflow/internal/db"
)

const (
	testDB       = "ingesttest"
	testUser     = "postgres"
	testPassword = "postgres"
)

// PostgresEnabled reports whether Postgres-backed tests were requested.
// They download server binaries, so they only run on demand.
func PostgresEnabled() bool {
	return os.Getenv("INGEST_TEST_POSTGRES") == "1"
}

// StartPostgres starts an embedded Postgres on port and returns its DSN and
// a stop function. Each test package uses its own port.
func StartPostgres(port uint32) (string, func(), error) {
	pg := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Database(testDB).
			Username(testUser).
			Password(testPassword).
			Version(embeddedpostgres.V16).
			RuntimePath(filepath.Join(os.TempDir(), fmt.Sprintf("ingestflow-pg-%d", port))).
			StartTimeout(30 * time.Second),
	)
	if err := pg.Start(); err != nil {
		return "", nil, fmt.Errorf("start embedded postgres: %w", err)
	}
	dsn := fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable", testUser, testPassword, port, testDB)
	return dsn, func() {
		if err := pg.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
		}
	}, nil
}

// MustOpenSQLite opens a migrated SQLite store in a temp dir.
func MustOpenSQLite(t testing.TB) *db.Runner {
	t.Helper()
	ctx := context.Background()
	d, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := db.ApplyMigrations(ctx, d, zerolog.Nop()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db.NewRunner(d, zerolog.Nop())
}

// MustOpenPostgres connects to dsn, resets the public schema and migrates.
func MustOpenPostgres(t testing.TB, dsn string) *db.Runner {
	t.Helper()
	ctx := context.Background()
	d, err := db.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	r := db.NewRunner(d, zerolog.Nop())
	err = r.Run(ctx, db.Deferred, func(ctx context.Context, s db.Session) error {
		_, err := s.Exec(ctx, "DROP SCHEMA public CASCADE; CREATE SCHEMA public")
		return err
	})
	if err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := db.ApplyMigrations(ctx, d, zerolog.Nop()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return r
}

// ForEachBackend runs fn as a subtest against every available dialect.
func ForEachBackend(t *testing.T, pgDSN string, fn func(t *testing.T, r *db.Runner)) {
	t.Helper()
	for _, d := range []db.Dialect{db.SQLite, db.Postgres} {
		if d == db.Postgres && pgDSN == "" {
			continue
		}
		t.Run(string(d), func(t *testing.T) {
			var r *db.Runner
			if d == db.Postgres {
				r = MustOpenPostgres(t, pgDSN)
			} else {
				r = MustOpenSQLite(t)
			}
			fn(t, r)
		})
	}
}
