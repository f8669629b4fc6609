package export

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/ingestflow/internal/model"
)

// Reader streams audit rows back out of a file written by WriteAuditParquet.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[model.AuditRow]
}

// Open opens path and checks that it carries the audit columns.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit file: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	if err := ValidateSchema(pf.Schema()); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Reader{file: f, reader: parquet.NewGenericReader[model.AuditRow](pf)}, nil
}

// NumRows returns the row count recorded in the file footer.
func (r *Reader) NumRows() int64 { return r.reader.NumRows() }

// Rows yields every row, reading batch rows at a time.
func (r *Reader) Rows(batch int) iter.Seq2[model.AuditRow, error] {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return func(yield func(model.AuditRow, error) bool) {
		buf := make([]model.AuditRow, batch)
		for {
			n, err := r.reader.Read(buf)
			for _, row := range buf[:n] {
				if !yield(row, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(model.AuditRow{}, fmt.Errorf("read audit rows: %w", err))
				return
			}
		}
	}
}

// Close releases the reader and the file.
func (r *Reader) Close() error {
	rerr := r.reader.Close()
	ferr := r.file.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}
