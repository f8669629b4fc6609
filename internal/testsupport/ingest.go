package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/model"
)

// SeedIngest inserts a bare ingest row in status and returns its id.
func SeedIngest(t testing.TB, r *db.Runner, status model.IngestStatus) uuid.UUID {
	t.Helper()
	id := model.NewID()
	now := model.Now()
	err := r.Run(context.Background(), db.Deferred, func(ctx context.Context, s db.Session) error {
		_, err := s.Exec(ctx,
			"INSERT INTO ingests (id, label, status, config, strategy_config, history, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			id, "seed", status, "{}", "{}", "[]", now, now)
		return err
	})
	if err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	return id
}
