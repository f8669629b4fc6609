package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/metrics"
	"github.com/gyeh/ingestflow/internal/model"
)

// Bulk applies op to mappings of kind in one deferred transaction. Insert
// mappings may omit id, ingest_id and timestamps; update mappings must carry
// id plus the columns to set.
func (s *Store) Bulk(ctx context.Context, ingestID uuid.UUID, op model.BulkOp, kind model.Kind, mappings []model.Mapping) error {
	sc, err := lookup(kind, false)
	if err != nil {
		return err
	}
	if op != model.BulkInsert && op != model.BulkUpdate {
		return fmt.Errorf("bulk %s: unknown operation %q", sc.info.Name, op)
	}
	if len(mappings) == 0 {
		return nil
	}

	var rows [][]any
	var stmts []db.Statement
	switch op {
	case model.BulkInsert:
		_, rows, err = insertPlan(sc, ingestID, mappings)
	case model.BulkUpdate:
		stmts, err = updatePlan(sc, ingestID, mappings)
	}
	if err != nil {
		return err
	}

	err = s.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		if op == model.BulkInsert {
			_, err := sess.CopyFrom(ctx, sc.info.Table, sc.names(), rows)
			return err
		}
		return sess.ExecBatch(ctx, stmts)
	})
	if err != nil {
		return fmt.Errorf("bulk %s %s: %w", op, sc.info.Name, err)
	}
	metrics.Get().BulkRows.WithLabelValues(sc.info.Name, string(op)).Add(float64(len(mappings)))
	s.log.Debug().Str("kind", sc.info.Name).Str("op", string(op)).Int("rows", len(mappings)).Msg("bulk write")
	return nil
}

// InsertRows inserts mappings of kind inside an existing unit of work.
func InsertRows(ctx context.Context, sess db.Session, kind model.Kind, ingestID uuid.UUID, mappings []model.Mapping) error {
	sc, err := lookup(kind, false)
	if err != nil {
		return err
	}
	cols, rows, err := insertPlan(sc, ingestID, mappings)
	if err != nil {
		return err
	}
	if _, err := sess.CopyFrom(ctx, sc.info.Table, cols, rows); err != nil {
		return fmt.Errorf("insert %s: %w", sc.info.Name, err)
	}
	return nil
}

// insertPlan validates mappings and lays them out in schema column order.
func insertPlan(sc *schema, ingestID uuid.UUID, mappings []model.Mapping) ([]string, [][]any, error) {
	now := model.Now()
	rows := make([][]any, 0, len(mappings))
	for i, m := range mappings {
		for k := range m {
			if _, err := sc.column(k); err != nil {
				return nil, nil, fmt.Errorf("row %d: %w", i, err)
			}
		}
		row := make([]any, len(sc.columns))
		for j, c := range sc.columns {
			v, present := m[c.name]
			switch {
			case c.name == "ingest_id":
				v = ingestID
			case c.name == "id" && (!present || isZeroID(v)):
				v = model.NewID()
			case (c.name == "created_at" || c.name == "updated_at") && (!present || isZeroTime(v)):
				v = now
			case !present:
				if c.required {
					return nil, nil, fmt.Errorf("%w: row %d: %s requires %q", ErrInvalidColumn, i, sc.info.Name, c.name)
				}
				v = c.zero
			}
			cv, err := c.coerce(v)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: %w", i, err)
			}
			if cv == nil && c.zero != nil {
				cv = c.zero
			}
			row[j] = cv
		}
		rows = append(rows, row)
	}
	return sc.names(), rows, nil
}

func updatePlan(sc *schema, ingestID uuid.UUID, mappings []model.Mapping) ([]db.Statement, error) {
	now := model.Now()
	stmts := make([]db.Statement, 0, len(mappings))
	for i, m := range mappings {
		st, err := updateStatement(sc, ingestID, m, now)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		stmts = append(stmts, st)
	}
	return stmts, nil
}

// updateStatement builds the UPDATE for one mapping keyed by its id.
func updateStatement(sc *schema, ingestID uuid.UUID, m model.Mapping, now model.Time) (db.Statement, error) {
	rawID, ok := m["id"]
	if !ok {
		return db.Statement{}, fmt.Errorf("%w: update of %s requires \"id\"", ErrInvalidColumn, sc.info.Name)
	}
	idCol, _ := sc.column("id")
	id, err := idCol.coerce(rawID)
	if err != nil || id == nil {
		return db.Statement{}, fmt.Errorf("%w: update of %s: bad id %v", ErrInvalidColumn, sc.info.Name, rawID)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "id":
			continue
		case "ingest_id", "created_at":
			return db.Statement{}, fmt.Errorf("%w: %s.%s is immutable", ErrInvalidColumn, sc.info.Name, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return db.Statement{}, fmt.Errorf("%w: update of %s sets no columns", ErrInvalidColumn, sc.info.Name)
	}

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+3)
	for _, k := range keys {
		c, err := sc.column(k)
		if err != nil {
			return db.Statement{}, err
		}
		v, err := c.coerce(m[k])
		if err != nil {
			return db.Statement{}, err
		}
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	if sc.updatedAt && m["updated_at"] == nil {
		sets = append(sets, "updated_at = ?")
		args = append(args, now)
	}
	args = append(args, id, ingestID)
	return db.Statement{
		Query: "UPDATE " + sc.info.Table + " SET " + strings.Join(sets, ", ") + " WHERE id = ? AND ingest_id = ?",
		Args:  args,
	}, nil
}

func isZeroID(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case uuid.UUID:
		return x == uuid.Nil
	case string:
		return x == ""
	}
	return false
}

func isZeroTime(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case model.Time:
		return x.IsZero()
	}
	return false
}
