package db

import (
	"github.com/jackc/pgx/v5"
)

// rowSource implements pgx.CopyFromSource over buffered rows, normalising
// each row's values as it is read.
type rowSource struct {
	rows    [][]any
	idx     int
	current []any
}

func newRowSource(rows [][]any) *rowSource {
	return &rowSource{rows: rows, idx: -1}
}

// Next advances to the next row. Returns false after the last row.
func (s *rowSource) Next() bool {
	s.idx++
	if s.idx >= len(s.rows) {
		return false
	}
	s.current = normalizeArgs(s.rows[s.idx])
	return true
}

// Values returns the current row's values in COPY column order.
func (s *rowSource) Values() ([]any, error) {
	return s.current, nil
}

func (s *rowSource) Err() error {
	return nil
}

var _ pgx.CopyFromSource = (*rowSource)(nil)
