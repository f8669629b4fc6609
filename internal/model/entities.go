package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Ingest is one end-to-end batch import run and the root of everything it owns.
type Ingest struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	Label          string       `db:"label" json:"label"`
	Status         IngestStatus `db:"status" json:"status"`
	Config         JSON         `db:"config" json:"config"`
	StrategyConfig JSON         `db:"strategy_config" json:"strategy_config"`
	APIKey         string       `db:"api_key" json:"-"`
	Host           string       `db:"host" json:"host"`
	User           string       `db:"username" json:"user"`
	History        JSON         `db:"history" json:"history"`
	CreatedAt      Time         `db:"created_at" json:"created_at"`
	UpdatedAt      Time         `db:"updated_at" json:"updated_at"`
}

// HistoryEntry records one status transition.
type HistoryEntry struct {
	Status    IngestStatus `json:"status"`
	Timestamp Time         `json:"timestamp"`
}

// Entries decodes the ingest history. A missing history decodes as empty.
func (i *Ingest) Entries() ([]HistoryEntry, error) {
	if len(i.History) == 0 {
		return nil, nil
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(i.History, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return entries, nil
}

// AppendHistory sets the status and appends the transition to the history.
func (i *Ingest) AppendHistory(status IngestStatus, at Time) error {
	entries, err := i.Entries()
	if err != nil {
		return err
	}
	entries = append(entries, HistoryEntry{Status: status, Timestamp: at})
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	i.Status = status
	i.History = data
	i.UpdatedAt = at
	return nil
}

// Task is a unit of work claimed by exactly one worker.
type Task struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	IngestID  uuid.UUID  `db:"ingest_id" json:"ingest_id"`
	Type      TaskType   `db:"type" json:"type"`
	Status    TaskStatus `db:"status" json:"status"`
	Worker    *string    `db:"worker" json:"worker,omitempty"`
	Context   JSON       `db:"context" json:"context,omitempty"`
	Completed int64      `db:"completed" json:"completed"`
	Total     int64      `db:"total" json:"total"`
	Error     *string    `db:"error" json:"error,omitempty"`
	CreatedAt Time       `db:"created_at" json:"created_at"`
	UpdatedAt Time       `db:"updated_at" json:"updated_at"`
}

// Container is a node in the destination hierarchy.
type Container struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	IngestID   uuid.UUID     `db:"ingest_id" json:"ingest_id"`
	ParentID   uuid.NullUUID `db:"parent_id" json:"parent_id"`
	Level      int           `db:"level" json:"level"`
	Path       string        `db:"path" json:"path"`
	SrcContext JSON          `db:"src_context" json:"src_context,omitempty"`
	DstContext JSON          `db:"dst_context" json:"dst_context,omitempty"`
	DstPath    *string       `db:"dst_path" json:"dst_path,omitempty"`
	Existing   bool          `db:"existing" json:"existing"`
	CreatedAt  Time          `db:"created_at" json:"created_at"`
}

// Item is a discovered file or packfile group.
type Item struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	IngestID    uuid.UUID     `db:"ingest_id" json:"ingest_id"`
	ContainerID uuid.NullUUID `db:"container_id" json:"container_id"`
	TaskID      uuid.NullUUID `db:"task_id" json:"task_id"`
	Type        string        `db:"type" json:"type"`
	Dir         string        `db:"dir" json:"dir"`
	Filename    *string       `db:"filename" json:"filename,omitempty"`
	Files       JSON          `db:"files" json:"files,omitempty"`
	FilesCnt    int64         `db:"files_cnt" json:"files_cnt"`
	BytesSum    int64         `db:"bytes_sum" json:"bytes_sum"`
	Context     JSON          `db:"context" json:"context,omitempty"`
	Existing    bool          `db:"existing" json:"existing"`
	Skipped     bool          `db:"skipped" json:"skipped"`
	CreatedAt   Time          `db:"created_at" json:"created_at"`
}

// ItemError is an error recorded against an item.
type ItemError struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	IngestID  uuid.UUID     `db:"ingest_id" json:"ingest_id"`
	ItemID    uuid.UUID     `db:"item_id" json:"item_id"`
	TaskID    uuid.NullUUID `db:"task_id" json:"task_id"`
	Code      string        `db:"code" json:"code"`
	Message   string        `db:"message" json:"message"`
	CreatedAt Time          `db:"created_at" json:"created_at"`
}

// DeidLog records de-identification changes applied to one file.
type DeidLog struct {
	ID         uuid.UUID `db:"id" json:"id"`
	IngestID   uuid.UUID `db:"ingest_id" json:"ingest_id"`
	Path       string    `db:"path" json:"path"`
	TagsBefore JSON      `db:"tags_before" json:"tags_before"`
	TagsAfter  JSON      `db:"tags_after" json:"tags_after"`
	CreatedAt  Time      `db:"created_at" json:"created_at"`
}

// Subject maps a tuple of identifying values to a generated subject code.
type Subject struct {
	ID        uuid.UUID `db:"id" json:"id"`
	IngestID  uuid.UUID `db:"ingest_id" json:"ingest_id"`
	Code      string    `db:"code" json:"code"`
	MapKey    string    `db:"map_key" json:"-"`
	MapValues JSON      `db:"map_values" json:"map_values"`
	CreatedAt Time      `db:"created_at" json:"created_at"`
}

// Values decodes the identifying values of the subject.
func (s *Subject) Values() ([]string, error) {
	var values []string
	if err := json.Unmarshal(s.MapValues, &values); err != nil {
		return nil, fmt.Errorf("decode subject map values: %w", err)
	}
	return values, nil
}

// ReviewChange is a user adjustment captured when an ingest leaves review.
type ReviewChange struct {
	ID        uuid.UUID `db:"id" json:"id"`
	IngestID  uuid.UUID `db:"ingest_id" json:"ingest_id"`
	Path      string    `db:"path" json:"path"`
	Skip      bool      `db:"skip" json:"skip"`
	Context   JSON      `db:"context" json:"context,omitempty"`
	CreatedAt Time      `db:"created_at" json:"created_at"`
}

// NewID returns a time-ordered identifier. Ordering by id therefore follows
// insertion order, which the queue and paginators rely on.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
