// Package store implements entity persistence shared by the ingest core:
// generic CRUD addressed by model.Kind, bulk writes, seek pagination and
// batch writers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/rs/zerolog"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/model"
)

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 1000

var mapper = reflectx.NewMapper("db")

// Store persists ingest-owned entities through a db.Runner.
type Store struct {
	runner   *db.Runner
	log      zerolog.Logger
	pageSize int
}

// New returns a Store. A pageSize <= 0 selects DefaultPageSize.
func New(runner *db.Runner, log zerolog.Logger, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{runner: runner, log: log, pageSize: pageSize}
}

// Runner returns the transaction runner the store uses.
func (s *Store) Runner() *db.Runner { return s.runner }

// PageSize returns the configured pagination page size.
func (s *Store) PageSize() int { return s.pageSize }

// Filter selects entities by column equality. A nil value matches NULL.
type Filter = model.Mapping

func whereClause(sc *schema, ingestID uuid.UUID, filter Filter) ([]string, []any, error) {
	where := []string{"ingest_id = ?"}
	args := []any{ingestID}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c, err := sc.column(k)
		if err != nil {
			return nil, nil, err
		}
		v, err := c.coerce(filter[k])
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			where = append(where, k+" IS NULL")
			continue
		}
		where = append(where, k+" = ?")
		args = append(args, v)
	}
	return where, args, nil
}

// Add inserts rec. A zero id, ingest id or creation time is filled in.
func (s *Store) Add(ctx context.Context, ingestID uuid.UUID, rec model.Record) error {
	sc, err := lookup(rec.RecordKind(), true)
	if err != nil {
		return err
	}
	row, err := recordMapping(sc, ingestID, rec)
	if err != nil {
		return err
	}
	return s.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		return InsertRows(ctx, sess, sc.info.Kind, ingestID, []model.Mapping{row})
	})
}

// recordMapping fills defaults on rec and returns its column values.
func recordMapping(sc *schema, ingestID uuid.UUID, rec model.Record) (model.Mapping, error) {
	v := reflect.ValueOf(rec)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("add %s: record must be a non-nil pointer", sc.info.Name)
	}
	fields := mapper.FieldMap(v.Elem())
	now := model.Now()
	if f := fields["id"]; f.IsValid() && f.Interface().(uuid.UUID) == uuid.Nil {
		f.Set(reflect.ValueOf(model.NewID()))
	}
	if f := fields["ingest_id"]; f.IsValid() {
		f.Set(reflect.ValueOf(ingestID))
	}
	for _, name := range []string{"created_at", "updated_at"} {
		if f := fields[name]; f.IsValid() && f.Interface().(model.Time).IsZero() {
			f.Set(reflect.ValueOf(now))
		}
	}
	out := make(model.Mapping, len(sc.columns))
	for _, c := range sc.columns {
		f, ok := fields[c.name]
		if !ok {
			return nil, fmt.Errorf("add %s: record has no field for column %q", sc.info.Name, c.name)
		}
		out[c.name] = f.Interface()
	}
	return out, nil
}

// Get returns the entity of the given kind by id.
func (s *Store) Get(ctx context.Context, ingestID uuid.UUID, kind model.Kind, id uuid.UUID) (model.Record, error) {
	sc, err := lookup(kind, true)
	if err != nil {
		return nil, err
	}
	rec := sc.newRecord()
	err = s.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		return sess.Get(ctx, rec,
			"SELECT "+strings.Join(sc.names(), ", ")+" FROM "+sc.info.Table+" WHERE id = ? AND ingest_id = ?",
			id, ingestID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", sc.info.Name, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", sc.info.Name, err)
	}
	return rec, nil
}

// GetAll streams every entity of kind matching filter in id order, one page
// per transaction.
func (s *Store) GetAll(ctx context.Context, ingestID uuid.UUID, kind model.Kind, filter Filter) iter.Seq2[model.Record, error] {
	sc, err := lookup(kind, true)
	if err != nil {
		return failed[model.Record](err)
	}
	where, args, err := whereClause(sc, ingestID, filter)
	if err != nil {
		return failed[model.Record](err)
	}
	q := PageQuery{
		Select: strings.Join(sc.names(), ", "),
		From:   sc.info.Table,
		Where:  where,
		Args:   args,
		ID:     "id",
		Size:   s.pageSize,
	}
	return Paginate(ctx, s.runner, q, sc.newRecord, func(r model.Record) []any {
		return []any{r.RecordID()}
	})
}

// FindOne returns the first entity of kind matching filter in id order.
func (s *Store) FindOne(ctx context.Context, ingestID uuid.UUID, kind model.Kind, filter Filter) (model.Record, error) {
	sc, err := lookup(kind, true)
	if err != nil {
		return nil, err
	}
	where, args, err := whereClause(sc, ingestID, filter)
	if err != nil {
		return nil, err
	}
	rec := sc.newRecord()
	err = s.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		return sess.Get(ctx, rec,
			"SELECT "+strings.Join(sc.names(), ", ")+" FROM "+sc.info.Table+
				" WHERE "+strings.Join(where, " AND ")+" ORDER BY id LIMIT 1",
			args...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", sc.info.Name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", sc.info.Name, err)
	}
	return rec, nil
}

// CountAll counts entities of kind matching filter.
func (s *Store) CountAll(ctx context.Context, ingestID uuid.UUID, kind model.Kind, filter Filter) (int64, error) {
	sc, err := lookup(kind, true)
	if err != nil {
		return 0, err
	}
	where, args, err := whereClause(sc, ingestID, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		return sess.Get(ctx, &n, "SELECT COUNT(*) FROM "+sc.info.Table+" WHERE "+strings.Join(where, " AND "), args...)
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", sc.info.Name, err)
	}
	return n, nil
}

// Update sets fields on the entity of kind with the given id and returns the
// updated entity.
func (s *Store) Update(ctx context.Context, ingestID uuid.UUID, kind model.Kind, id uuid.UUID, fields model.Mapping) (model.Record, error) {
	sc, err := lookup(kind, true)
	if err != nil {
		return nil, err
	}
	row := make(model.Mapping, len(fields)+1)
	for k, v := range fields {
		row[k] = v
	}
	row["id"] = id
	stmt, err := updateStatement(sc, ingestID, row, model.Now())
	if err != nil {
		return nil, err
	}
	rec := sc.newRecord()
	err = s.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		n, err := sess.Exec(ctx, stmt.Query, stmt.Args...)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s %s: %w", sc.info.Name, id, ErrNotFound)
		}
		return sess.Get(ctx, rec,
			"SELECT "+strings.Join(sc.names(), ", ")+" FROM "+sc.info.Table+" WHERE id = ?", id)
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", sc.info.Name, err)
	}
	return rec, nil
}

func failed[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}
