package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies an entity type addressed by the generic CRUD verbs.
type Kind int

const (
	KindTask Kind = iota + 1
	KindContainer
	KindItem
	KindItemError
	KindDeidLog
	KindSubject
	KindReviewChange
)

// KindInfo describes how a Kind is persisted.
type KindInfo struct {
	Kind  Kind
	Name  string // e.g. "task"
	Table string // e.g. "tasks"
}

// AllKinds lists every Kind in canonical order.
var AllKinds = []KindInfo{
	{Kind: KindTask, Name: "task", Table: "tasks"},
	{Kind: KindContainer, Name: "container", Table: "containers"},
	{Kind: KindItem, Name: "item", Table: "items"},
	{Kind: KindItemError, Name: "item_error", Table: "item_errors"},
	{Kind: KindDeidLog, Name: "deid_log", Table: "deid_logs"},
	{Kind: KindSubject, Name: "subject", Table: "subjects"},
	{Kind: KindReviewChange, Name: "review_change", Table: "review_changes"},
}

// Info returns the persistence description of k, or ok=false for an unknown kind.
func (k Kind) Info() (KindInfo, bool) {
	for _, info := range AllKinds {
		if info.Kind == k {
			return info, true
		}
	}
	return KindInfo{}, false
}

func (k Kind) String() string {
	if info, ok := k.Info(); ok {
		return info.Name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindByName returns the Kind for the given name, or ok=false.
func KindByName(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, info := range AllKinds {
		if info.Name == name {
			return info.Kind, true
		}
	}
	return 0, false
}

// Record is implemented by every entity the generic CRUD verbs return.
type Record interface {
	RecordKind() Kind
	RecordID() uuid.UUID
}

func (t *Task) RecordKind() Kind         { return KindTask }
func (t *Task) RecordID() uuid.UUID      { return t.ID }
func (c *Container) RecordKind() Kind    { return KindContainer }
func (c *Container) RecordID() uuid.UUID { return c.ID }
func (i *Item) RecordKind() Kind         { return KindItem }
func (i *Item) RecordID() uuid.UUID      { return i.ID }
func (e *ItemError) RecordKind() Kind    { return KindItemError }
func (e *ItemError) RecordID() uuid.UUID { return e.ID }
func (d *DeidLog) RecordKind() Kind      { return KindDeidLog }
func (d *DeidLog) RecordID() uuid.UUID   { return d.ID }
func (s *Subject) RecordKind() Kind      { return KindSubject }
func (s *Subject) RecordID() uuid.UUID   { return s.ID }

func (r *ReviewChange) RecordKind() Kind    { return KindReviewChange }
func (r *ReviewChange) RecordID() uuid.UUID { return r.ID }

// Mapping is a column-name to value map used by Update, Bulk and BatchWriter.
type Mapping map[string]any

// BulkOp selects the bulk operation.
type BulkOp string

const (
	BulkInsert BulkOp = "insert"
	BulkUpdate BulkOp = "update"
)
