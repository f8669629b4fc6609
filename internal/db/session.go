package db

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Session is the handle a unit of work uses to talk to the store. Queries are
// written with ? placeholders; the session rebinds them for the dialect.
type Session interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Get(ctx context.Context, dest any, query string, args ...any) error
	Select(ctx context.Context, dest any, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	// CopyFrom inserts rows into table. Postgres uses the COPY protocol;
	// SQLite falls back to chunked multi-row INSERTs.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	// ExecBatch runs statements in order. Postgres pipelines them in a
	// single round trip.
	ExecBatch(ctx context.Context, stmts []Statement) error
	Dialect() Dialect
	Locker() Locker
}

// Statement is one query of an ExecBatch.
type Statement struct {
	Query string
	Args  []any
}

type session struct {
	conn    *sqlx.Conn
	dialect Dialect
	locker  Locker
}

func (s *session) Dialect() Dialect { return s.dialect }
func (s *session) Locker() Locker   { return s.locker }

func (s *session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.conn.ExecContext(ctx, s.dialect.Rebind(query), normalizeArgs(args)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *session) Get(ctx context.Context, dest any, query string, args ...any) error {
	return s.conn.GetContext(ctx, dest, s.dialect.Rebind(query), normalizeArgs(args)...)
}

func (s *session) Select(ctx context.Context, dest any, query string, args ...any) error {
	return s.conn.SelectContext(ctx, dest, s.dialect.Rebind(query), normalizeArgs(args)...)
}

func (s *session) Query(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return s.conn.QueryxContext(ctx, s.dialect.Rebind(query), normalizeArgs(args)...)
}

func (s *session) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if s.dialect == Postgres {
		var n int64
		err := s.conn.Raw(func(driverConn any) error {
			conn, ok := driverConn.(*stdlib.Conn)
			if !ok {
				return fmt.Errorf("copy into %s: unexpected driver connection %T", table, driverConn)
			}
			var err error
			n, err = conn.Conn().CopyFrom(ctx, pgx.Identifier{table}, columns, newRowSource(rows))
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("copy into %s: %w", table, err)
		}
		return n, nil
	}

	chunk := s.dialect.MaxParams() / len(columns)
	if chunk > 500 {
		chunk = 500
	}
	prefix := "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES "
	tuple := "(" + Placeholders(len(columns)) + ")"
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		var b strings.Builder
		b.WriteString(prefix)
		args := make([]any, 0, (end-start)*len(columns))
		for i, row := range rows[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(tuple)
			args = append(args, row...)
		}
		n, err := s.Exec(ctx, b.String(), args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func (s *session) ExecBatch(ctx context.Context, stmts []Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	if s.dialect == Postgres {
		return s.conn.Raw(func(driverConn any) error {
			conn, ok := driverConn.(*stdlib.Conn)
			if !ok {
				return fmt.Errorf("exec batch: unexpected driver connection %T", driverConn)
			}
			batch := &pgx.Batch{}
			for _, st := range stmts {
				batch.Queue(s.dialect.Rebind(st.Query), normalizeArgs(st.Args)...)
			}
			if err := conn.Conn().SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("exec batch: %w", err)
			}
			return nil
		})
	}
	for i, st := range stmts {
		if _, err := s.Exec(ctx, st.Query, st.Args...); err != nil {
			return fmt.Errorf("exec batch statement %d: %w", i, err)
		}
	}
	return nil
}

// Placeholders returns n comma-separated ? placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// normalizeArgs converts values into the plain forms both drivers accept:
// Valuers are resolved, JSON documents become text, named string types
// become strings.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = normalizeValue(a)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if x == nil {
			return nil
		}
		return string(x)
	case string, []byte, bool, int, int32, int64, float64:
		return x
	case driver.Valuer:
		rv := reflect.ValueOf(x)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil
		}
		val, err := x.Value()
		if err != nil {
			return x
		}
		return val
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	}
	return v
}
