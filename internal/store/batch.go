package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gyeh/ingestflow/internal/model"
)

// BatchWriter buffers mappings and writes them with one Bulk call per batch.
//
// Writers listed in dependsOn are flushed before this one so rows referenced
// by foreign keys land first; the dependency graph must be acyclic. Buffered
// rows are not written when a writer is discarded: callers must Flush, and
// Pending reports what is still buffered.
type BatchWriter struct {
	store     *Store
	ingestID  uuid.UUID
	op        model.BulkOp
	kind      model.Kind
	size      int
	dependsOn []*BatchWriter

	mu  sync.Mutex
	buf []model.Mapping
}

// NewBatchWriter returns a writer applying op to kind for one ingest.
func (s *Store) NewBatchWriter(ingestID uuid.UUID, op model.BulkOp, kind model.Kind, size int, dependsOn ...*BatchWriter) *BatchWriter {
	if size <= 0 {
		size = s.pageSize
	}
	return &BatchWriter{
		store:     s,
		ingestID:  ingestID,
		op:        op,
		kind:      kind,
		size:      size,
		dependsOn: dependsOn,
		buf:       make([]model.Mapping, 0, size),
	}
}

// Push buffers m and flushes once the batch is full.
func (w *BatchWriter) Push(ctx context.Context, m model.Mapping) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, m)
	if len(w.buf) < w.size {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush writes dependencies first, then everything buffered here. The
// buffer is cleared only after a successful write.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BatchWriter) flushLocked(ctx context.Context) error {
	for _, dep := range w.dependsOn {
		if err := dep.Flush(ctx); err != nil {
			return err
		}
	}
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.store.Bulk(ctx, w.ingestID, w.op, w.kind, w.buf); err != nil {
		return err
	}
	w.buf = make([]model.Mapping, 0, w.size)
	return nil
}

// Pending returns the number of buffered mappings not yet written.
func (w *BatchWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
