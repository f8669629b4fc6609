// Package export writes ingest audit rows as Parquet and reads them back.
package export

import (
	"fmt"
	"io"
	"iter"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/ingestflow/internal/model"
)

// DefaultBatchSize is the number of rows buffered between writer calls.
const DefaultBatchSize = 1000

// WriteAuditParquet writes every row of seq to w as a Parquet file and
// returns the number of rows written. The file is only complete once the
// sequence is exhausted without error.
func WriteAuditParquet(w io.Writer, seq iter.Seq2[model.AuditRow, error]) (int64, error) {
	pw := parquet.NewGenericWriter[model.AuditRow](w)

	var total int64
	batch := make([]model.AuditRow, 0, DefaultBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := pw.Write(batch)
		total += int64(n)
		if err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for row, err := range seq {
		if err != nil {
			pw.Close()
			return total, err
		}
		batch = append(batch, row)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				pw.Close()
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		pw.Close()
		return total, err
	}
	if err := pw.Close(); err != nil {
		return total, fmt.Errorf("close parquet writer: %w", err)
	}
	return total, nil
}
