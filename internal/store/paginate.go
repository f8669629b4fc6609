package store

import (
	"context"
	"iter"
	"strconv"
	"strings"

	"github.com/gyeh/ingestflow/internal/db"
)

// PageQuery describes a keyset-paginated query. Order lists the ordering
// columns, which must be non-null; ID is the identity column appended as the
// final tiebreaker, so (Order..., ID) is unique.
type PageQuery struct {
	Select string
	From   string
	Where  []string
	Args   []any
	Order  []string
	ID     string
	Size   int
}

func (q PageQuery) build(after []any) (string, []any) {
	keys := append(append([]string{}, q.Order...), q.ID)
	where := append([]string{}, q.Where...)
	args := append([]any{}, q.Args...)
	if after != nil {
		where = append(where, "("+strings.Join(keys, ", ")+") > ("+db.Placeholders(len(keys))+")")
		args = append(args, after...)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(q.Select)
	b.WriteString(" FROM ")
	b.WriteString(q.From)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(keys, ", "))
	b.WriteString(" LIMIT ")
	b.WriteString(strconv.Itoa(q.Size))
	return b.String(), args
}

// Paginate streams the rows of q page by page. Each page is read in its own
// deferred transaction and the next page starts strictly after the key of
// the last row, so rows inserted behind the cursor are never revisited.
// newRow allocates a scan destination (a struct pointer); key returns the
// values of (Order..., ID) for a row, in that order.
func Paginate[T any](ctx context.Context, runner *db.Runner, q PageQuery, newRow func() T, key func(T) []any) iter.Seq2[T, error] {
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	return func(yield func(T, error) bool) {
		var after []any
		for {
			query, args := q.build(after)
			page := make([]T, 0, q.Size)
			err := runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
				page = page[:0]
				rows, err := sess.Query(ctx, query, args...)
				if err != nil {
					return err
				}
				defer rows.Close()
				for rows.Next() {
					row := newRow()
					if err := rows.StructScan(row); err != nil {
						return err
					}
					page = append(page, row)
				}
				return rows.Err()
			})
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, row := range page {
				if !yield(row, nil) {
					return
				}
			}
			if len(page) < q.Size {
				return
			}
			after = key(page[len(page)-1])
		}
	}
}
