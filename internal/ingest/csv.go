package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tidwall/gjson"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
)

// DeidProfile names the fields a de-identification profile touches. The
// deid_logs export emits a before/after column pair per field.
type DeidProfile interface {
	FieldNames() []string
}

// FieldList is a DeidProfile backed by a fixed list of field names.
type FieldList []string

func (f FieldList) FieldNames() []string { return f }

// AuditHeader is the header row of the audit log export.
var AuditHeader = []string{"item_id", "src_path", "dst_path", "status", "existing", "errors"}

type auditItem struct {
	ID         uuid.UUID `db:"id"`
	Dir        string    `db:"dir"`
	Filename   *string   `db:"filename"`
	Skipped    bool      `db:"skipped"`
	Existing   bool      `db:"existing"`
	TaskStatus *string   `db:"task_status"`
	DstPath    *string   `db:"dst_path"`
}

type itemErrorRow struct {
	ItemID  uuid.UUID `db:"item_id"`
	Code    string    `db:"code"`
	Message string    `db:"message"`
}

// AuditRows streams one audit row per item in id order. Errors of each page
// of items are fetched with a single IN query.
func (c *Client) AuditRows(ctx context.Context) iter.Seq2[model.AuditRow, error] {
	pageSize := c.svc.store.PageSize()
	q := store.PageQuery{
		Select: "i.id AS id, i.dir AS dir, i.filename AS filename, i.skipped AS skipped, i.existing AS existing, " +
			"t.status AS task_status, c.dst_path AS dst_path",
		From: "items i LEFT JOIN tasks t ON t.id = i.task_id LEFT JOIN containers c ON c.id = i.container_id",
		Where: []string{"i.ingest_id = ?"},
		Args:  []any{c.id},
		ID:    "i.id",
		Size:  pageSize,
	}
	items := store.Paginate(ctx, c.svc.runner, q,
		func() *auditItem { return &auditItem{} },
		func(r *auditItem) []any { return []any{r.ID} })

	return func(yield func(model.AuditRow, error) bool) {
		chunk := make([]*auditItem, 0, pageSize)
		emit := func() bool {
			if len(chunk) == 0 {
				return true
			}
			errs, err := c.itemErrors(ctx, chunk)
			if err != nil {
				yield(model.AuditRow{}, err)
				return false
			}
			for _, it := range chunk {
				if !yield(auditRow(it, errs[it.ID]), nil) {
					return false
				}
			}
			chunk = chunk[:0]
			return true
		}
		for it, err := range items {
			if err != nil {
				yield(model.AuditRow{}, err)
				return
			}
			chunk = append(chunk, it)
			if len(chunk) == pageSize && !emit() {
				return
			}
		}
		emit()
	}
}

func (c *Client) itemErrors(ctx context.Context, items []*auditItem) (map[uuid.UUID][]string, error) {
	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	query, args, err := sqlx.In("SELECT item_id, code, message FROM item_errors WHERE item_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, fmt.Errorf("build item error query: %w", err)
	}
	var rows []itemErrorRow
	err = c.svc.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		return sess.Select(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("load item errors: %w", err)
	}
	out := make(map[uuid.UUID][]string, len(rows))
	for _, r := range rows {
		msg := r.Code
		if r.Message != "" {
			msg += ": " + r.Message
		}
		out[r.ItemID] = append(out[r.ItemID], msg)
	}
	return out, nil
}

func auditRow(it *auditItem, errs []string) model.AuditRow {
	status := model.StageScanned
	switch {
	case it.Skipped:
		status = model.StageSkipped
	case it.TaskStatus != nil:
		status = *it.TaskStatus
	}
	dst := ""
	if it.DstPath != nil {
		dst = *it.DstPath
		if it.Filename != nil && *it.Filename != "" {
			dst = path.Join(dst, *it.Filename)
		}
	}
	return model.AuditRow{
		ItemID:   it.ID.String(),
		SrcPath:  itemPath(it.Dir, it.Filename),
		DstPath:  dst,
		Status:   status,
		Existing: it.Existing,
		Errors:   strings.Join(errs, "; "),
	}
}

// AuditLogs streams the audit log export, header first.
func (c *Client) AuditLogs(ctx context.Context) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		if !yield(AuditHeader, nil) {
			return
		}
		for r, err := range c.AuditRows(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			rec := []string{r.ItemID, r.SrcPath, r.DstPath, r.Status, strconv.FormatBool(r.Existing), r.Errors}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// DeidLogs streams the de-identification log export, header first. Columns
// are path followed by <field>_before and <field>_after for every field of
// profile.
func (c *Client) DeidLogs(ctx context.Context, profile DeidProfile) iter.Seq2[[]string, error] {
	fields := profile.FieldNames()
	header := make([]string, 0, 1+2*len(fields))
	header = append(header, "path")
	for _, f := range fields {
		header = append(header, f+"_before", f+"_after")
	}

	q := store.PageQuery{
		Select: "id, ingest_id, path, tags_before, tags_after, created_at",
		From:   "deid_logs",
		Where:  []string{"ingest_id = ?"},
		Args:   []any{c.id},
		Order:  []string{"path"},
		ID:     "id",
		Size:   c.svc.store.PageSize(),
	}
	logs := store.Paginate(ctx, c.svc.runner, q,
		func() *model.DeidLog { return &model.DeidLog{} },
		func(l *model.DeidLog) []any { return []any{l.Path, l.ID} })

	return func(yield func([]string, error) bool) {
		if !yield(header, nil) {
			return
		}
		for l, err := range logs {
			if err != nil {
				yield(nil, err)
				return
			}
			before, after := tagValues(l.TagsBefore), tagValues(l.TagsAfter)
			rec := make([]string, 0, len(header))
			rec = append(rec, l.Path)
			for _, f := range fields {
				rec = append(rec, before[f], after[f])
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func tagValues(doc []byte) map[string]string {
	out := map[string]string{}
	if len(doc) == 0 {
		return out
	}
	gjson.ParseBytes(doc).ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.String()
		return true
	})
	return out
}

// Subjects streams the subject export, header first: code followed by the
// configured map keys.
func (c *Client) Subjects(ctx context.Context) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		ing, err := c.Load(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if !yield(append([]string{"code"}, SubjectMapKeys(ing)...), nil) {
			return
		}
		q := store.PageQuery{
			Select: "id, ingest_id, code, map_key, map_values, created_at",
			From:   "subjects",
			Where:  []string{"ingest_id = ?"},
			Args:   []any{c.id},
			ID:     "id",
			Size:   c.svc.store.PageSize(),
		}
		subjects := store.Paginate(ctx, c.svc.runner, q,
			func() *model.Subject { return &model.Subject{} },
			func(s *model.Subject) []any { return []any{s.ID} })
		for s, err := range subjects {
			if err != nil {
				yield(nil, err)
				return
			}
			values, err := s.Values()
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(append([]string{s.Code}, values...), nil) {
				return
			}
		}
	}
}

// WriteCSV writes every record of seq to w.
func WriteCSV(w io.Writer, seq iter.Seq2[[]string, error]) (int, error) {
	cw := csv.NewWriter(w)
	n := 0
	for rec, err := range seq {
		if err != nil {
			return n, err
		}
		if err := cw.Write(rec); err != nil {
			return n, fmt.Errorf("write csv: %w", err)
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}
