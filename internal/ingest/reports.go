package ingest

import (
	"context"
	"fmt"
	"iter"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
)

// itemStageExpr derives an item's progress stage from its skip flag and the
// status of the task it is linked to.
const itemStageExpr = `CASE WHEN i.skipped THEN 'skipped' WHEN t.status IS NULL THEN 'scanned' ELSE t.status END`

// Progress reports task counts by type and status, and item, file and byte
// counts by item stage. All counts come from one unit of work.
func (c *Client) Progress(ctx context.Context) (*model.Progress, error) {
	p := &model.Progress{
		Tasks:  map[model.TaskType]map[model.TaskStatus]int64{},
		Stages: map[string]model.StageCount{},
	}
	err := c.svc.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		ing, err := loadIngest(ctx, sess, c.id, false)
		if err != nil {
			return err
		}
		p.Status = ing.Status

		var tasks []struct {
			Type   model.TaskType   `db:"type"`
			Status model.TaskStatus `db:"status"`
			N      int64            `db:"n"`
		}
		if err := sess.Select(ctx, &tasks,
			"SELECT type, status, COUNT(*) AS n FROM tasks WHERE ingest_id = ? GROUP BY type, status", c.id); err != nil {
			return fmt.Errorf("count tasks: %w", err)
		}
		for _, t := range tasks {
			if p.Tasks[t.Type] == nil {
				p.Tasks[t.Type] = map[model.TaskStatus]int64{}
			}
			p.Tasks[t.Type][t.Status] = t.N
		}

		var stages []struct {
			Stage string `db:"stage"`
			Items int64  `db:"items"`
			Files int64  `db:"files"`
			Bytes int64  `db:"bytes"`
		}
		if err := sess.Select(ctx, &stages,
			"SELECT "+itemStageExpr+" AS stage, COUNT(*) AS items, "+
				"CAST(COALESCE(SUM(i.files_cnt), 0) AS BIGINT) AS files, CAST(COALESCE(SUM(i.bytes_sum), 0) AS BIGINT) AS bytes "+
				"FROM items i LEFT JOIN tasks t ON t.id = i.task_id WHERE i.ingest_id = ? GROUP BY 1", c.id); err != nil {
			return fmt.Errorf("count items: %w", err)
		}
		p.Total = model.StageCount{}
		for _, s := range stages {
			p.Stages[s.Stage] = model.StageCount{Items: s.Items, Files: s.Files, Bytes: s.Bytes}
			p.Total.Items += s.Items
			p.Total.Files += s.Files
			p.Total.Bytes += s.Bytes
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}
	return p, nil
}

// Summary reports aggregate counts over the whole ingest.
func (c *Client) Summary(ctx context.Context) (*model.IngestSummary, error) {
	sum := &model.IngestSummary{
		ContainersByLevel: map[int]int64{},
		ErrorsByCode:      map[string]int64{},
	}
	err := c.svc.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		if _, err := loadIngest(ctx, sess, c.id, false); err != nil {
			return err
		}

		var levels []struct {
			Level int   `db:"level"`
			N     int64 `db:"n"`
		}
		if err := sess.Select(ctx, &levels,
			"SELECT level, COUNT(*) AS n FROM containers WHERE ingest_id = ? GROUP BY level", c.id); err != nil {
			return fmt.Errorf("count containers: %w", err)
		}
		for _, l := range levels {
			sum.ContainersByLevel[l.Level] = l.N
		}

		var items struct {
			Items    int64 `db:"items"`
			Files    int64 `db:"files"`
			Bytes    int64 `db:"bytes"`
			Skipped  int64 `db:"skipped"`
			Existing int64 `db:"existing"`
		}
		if err := sess.Get(ctx, &items,
			"SELECT COUNT(*) AS items, CAST(COALESCE(SUM(files_cnt), 0) AS BIGINT) AS files, CAST(COALESCE(SUM(bytes_sum), 0) AS BIGINT) AS bytes, "+
				"CAST(COALESCE(SUM(CASE WHEN skipped THEN 1 ELSE 0 END), 0) AS BIGINT) AS skipped, "+
				"CAST(COALESCE(SUM(CASE WHEN existing THEN 1 ELSE 0 END), 0) AS BIGINT) AS existing "+
				"FROM items WHERE ingest_id = ?", c.id); err != nil {
			return fmt.Errorf("count items: %w", err)
		}
		sum.Items, sum.Files, sum.Bytes = items.Items, items.Files, items.Bytes
		sum.Skipped, sum.Existing = items.Skipped, items.Existing

		if err := sess.Get(ctx, &sum.Subjects, "SELECT COUNT(*) FROM subjects WHERE ingest_id = ?", c.id); err != nil {
			return fmt.Errorf("count subjects: %w", err)
		}

		var codes []struct {
			Code string `db:"code"`
			N    int64  `db:"n"`
		}
		if err := sess.Select(ctx, &codes,
			"SELECT code, COUNT(*) AS n FROM item_errors WHERE ingest_id = ? GROUP BY code", c.id); err != nil {
			return fmt.Errorf("count errors: %w", err)
		}
		for _, e := range codes {
			sum.ErrorsByCode[e.Code] = e.N
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

// Elapsed derives per-status durations from an ingest's history. The last
// status runs until now unless it is terminal.
func Elapsed(ing *model.Ingest, now time.Time) ([]model.StageDuration, error) {
	entries, err := ing.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]model.StageDuration, 0, len(entries))
	for i, e := range entries {
		var end time.Time
		switch {
		case i+1 < len(entries):
			end = entries[i+1].Timestamp.Time
		case e.Status.IsTerminal():
			end = e.Timestamp.Time
		default:
			end = now
		}
		out = append(out, model.StageDuration{Status: e.Status, Started: e.Timestamp, Duration: end.Sub(e.Timestamp.Time)})
	}
	return out, nil
}

type errorRow struct {
	ID       uuid.UUID `db:"id"`
	ItemID   uuid.UUID `db:"item_id"`
	Dir      *string   `db:"dir"`
	Filename *string   `db:"filename"`
	Code     string    `db:"code"`
	Message  string    `db:"message"`
	TaskType *string   `db:"task_type"`
}

// Errors streams the ingest's item errors with the path of the failing item.
func (c *Client) Errors(ctx context.Context) iter.Seq2[model.ReportError, error] {
	q := store.PageQuery{
		Select: "e.id AS id, e.item_id AS item_id, i.dir AS dir, i.filename AS filename, " +
			"e.code AS code, e.message AS message, t.type AS task_type",
		From: "item_errors e LEFT JOIN items i ON i.id = e.item_id LEFT JOIN tasks t ON t.id = e.task_id",
		Where: []string{"e.ingest_id = ?"},
		Args:  []any{c.id},
		ID:    "e.id",
		Size:  c.svc.store.PageSize(),
	}
	rows := store.Paginate(ctx, c.svc.runner, q,
		func() *errorRow { return &errorRow{} },
		func(r *errorRow) []any { return []any{r.ID} })
	return func(yield func(model.ReportError, error) bool) {
		for r, err := range rows {
			if err != nil {
				yield(model.ReportError{}, err)
				return
			}
			re := model.ReportError{
				ItemID:  r.ItemID,
				Path:    itemPath(deref(r.Dir), r.Filename),
				Code:    r.Code,
				Message: r.Message,
			}
			if r.TaskType != nil {
				re.TaskType = *r.TaskType
			}
			if !yield(re, nil) {
				return
			}
		}
	}
}

// Report summarises the final state of the ingest: status, time spent per
// status and every recorded error.
func (c *Client) Report(ctx context.Context) (*model.IngestReport, error) {
	ing, err := c.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	elapsed, err := Elapsed(ing, time.Now())
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	rep := &model.IngestReport{Status: ing.Status, Elapsed: elapsed, Errors: []model.ReportError{}}
	for e, err := range c.Errors(ctx) {
		if err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
		rep.Errors = append(rep.Errors, e)
	}
	rep.ErrorCount = int64(len(rep.Errors))
	return rep, nil
}

// Tree streams the container hierarchy in path order with per-container
// item counts.
func (c *Client) Tree(ctx context.Context) iter.Seq2[*model.TreeNode, error] {
	q := store.PageQuery{
		Select: "c.id AS id, c.parent_id AS parent_id, c.level AS level, c.path AS path, c.existing AS existing, " +
			"(SELECT COUNT(*) FROM items i WHERE i.container_id = c.id) AS items",
		From:  "containers c",
		Where: []string{"c.ingest_id = ?"},
		Args:  []any{c.id},
		Order: []string{"c.path"},
		ID:    "c.id",
		Size:  c.svc.store.PageSize(),
	}
	return store.Paginate(ctx, c.svc.runner, q,
		func() *model.TreeNode { return &model.TreeNode{} },
		func(n *model.TreeNode) []any { return []any{n.Path, n.ID} })
}

func itemPath(dir string, filename *string) string {
	if filename == nil || *filename == "" {
		return dir
	}
	return path.Join(dir, *filename)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
