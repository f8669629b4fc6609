package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gyeh/ingestflow/internal/db"
	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
)

// Client scopes every operation to a single ingest.
type Client struct {
	svc *Service
	id  uuid.UUID
	log zerolog.Logger
}

// ID returns the ingest id the client is bound to.
func (c *Client) ID() uuid.UUID { return c.id }

// Load reads the ingest.
func (c *Client) Load(ctx context.Context) (*model.Ingest, error) {
	var ing *model.Ingest
	err := c.svc.runner.Run(ctx, db.Deferred, func(ctx context.Context, sess db.Session) error {
		var err error
		ing, err = loadIngest(ctx, sess, c.id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ing, nil
}

// loadIngest reads the ingest row, locking it when lock is set.
func loadIngest(ctx context.Context, sess db.Session, id uuid.UUID, lock bool) (*model.Ingest, error) {
	query := selectIngest() + " WHERE id = ?"
	if lock {
		query += sess.Locker().ForUpdate()
	}
	var ing model.Ingest
	if err := sess.Get(ctx, &ing, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ingest %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load ingest %s: %w", id, err)
	}
	return &ing, nil
}

// NextTask claims the oldest pending task of this ingest for worker.
func (c *Client) NextTask(ctx context.Context, worker string) (*model.Task, error) {
	return c.svc.claim(ctx, worker, c.id)
}

// Add inserts rec into the ingest.
func (c *Client) Add(ctx context.Context, rec model.Record) error {
	return c.svc.store.Add(ctx, c.id, rec)
}

// Get returns the entity of kind with the given id.
func (c *Client) Get(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Record, error) {
	return c.svc.store.Get(ctx, c.id, kind, id)
}

// GetAll streams entities of kind matching filter in id order.
func (c *Client) GetAll(ctx context.Context, kind model.Kind, filter store.Filter) iter.Seq2[model.Record, error] {
	return c.svc.store.GetAll(ctx, c.id, kind, filter)
}

// FindOne returns the first entity of kind matching filter.
func (c *Client) FindOne(ctx context.Context, kind model.Kind, filter store.Filter) (model.Record, error) {
	return c.svc.store.FindOne(ctx, c.id, kind, filter)
}

// CountAll counts entities of kind matching filter.
func (c *Client) CountAll(ctx context.Context, kind model.Kind, filter store.Filter) (int64, error) {
	return c.svc.store.CountAll(ctx, c.id, kind, filter)
}

// Update sets fields on one entity and returns it.
func (c *Client) Update(ctx context.Context, kind model.Kind, id uuid.UUID, fields model.Mapping) (model.Record, error) {
	return c.svc.store.Update(ctx, c.id, kind, id, fields)
}

// Bulk applies op to mappings of kind in one transaction.
func (c *Client) Bulk(ctx context.Context, op model.BulkOp, kind model.Kind, mappings []model.Mapping) error {
	return c.svc.store.Bulk(ctx, c.id, op, kind, mappings)
}

// BatchWriter returns a buffered writer for kind flushing every size rows.
func (c *Client) BatchWriter(op model.BulkOp, kind model.Kind, size int, dependsOn ...*store.BatchWriter) *store.BatchWriter {
	return c.svc.store.NewBatchWriter(c.id, op, kind, size, dependsOn...)
}
