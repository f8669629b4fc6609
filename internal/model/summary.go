package model

import (
	"time"

	"github.com/google/uuid"
)

// StageCount holds item-level totals for one progress stage.
type StageCount struct {
	Items int64 `json:"items"`
	Files int64 `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Progress captures the point-in-time state of an ingest's tasks and items.
type Progress struct {
	Status IngestStatus                       `json:"status"`
	Tasks  map[TaskType]map[TaskStatus]int64 `json:"tasks"`
	Stages map[string]StageCount              `json:"stages"`
	Total  StageCount                         `json:"total"`
}

// Item progress stages. Items not linked to an upload task yet are "scanned".
const (
	StageScanned   = "scanned"
	StageSkipped   = "skipped"
	StagePending   = "pending"
	StageRunning   = "running"
	StageCompleted = "completed"
	StageFailed    = "failed"
	StageCanceled  = "canceled"
)

// IngestSummary captures aggregate counts for a whole ingest.
type IngestSummary struct {
	ContainersByLevel map[int]int64    `json:"containers_by_level"`
	Items             int64            `json:"items"`
	Files             int64            `json:"files"`
	Bytes             int64            `json:"bytes"`
	Skipped           int64            `json:"skipped"`
	Existing          int64            `json:"existing"`
	Subjects          int64            `json:"subjects"`
	ErrorsByCode      map[string]int64 `json:"errors_by_code"`
}

// StageDuration is the wall time spent in one status.
type StageDuration struct {
	Status   IngestStatus  `json:"status"`
	Started  Time          `json:"started"`
	Duration time.Duration `json:"duration"`
}

// ReportError is one error line of an ingest report.
type ReportError struct {
	ItemID   uuid.UUID `json:"item_id"`
	Path     string    `json:"path"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	TaskType string    `json:"task_type,omitempty"`
}

// IngestReport is the final-status report of an ingest.
type IngestReport struct {
	Status     IngestStatus    `json:"status"`
	Elapsed    []StageDuration `json:"elapsed"`
	Errors     []ReportError   `json:"errors"`
	ErrorCount int64           `json:"error_count"`
}

// TreeNode is one container of the destination hierarchy in path order.
type TreeNode struct {
	ID       uuid.UUID     `db:"id" json:"id"`
	ParentID uuid.NullUUID `db:"parent_id" json:"parent_id"`
	Level    int           `db:"level" json:"level"`
	Path     string        `db:"path" json:"path"`
	Existing bool          `db:"existing" json:"existing"`
	Items    int64         `db:"items" json:"items"`
}

// AuditRow is one line of the audit log export.
type AuditRow struct {
	ItemID   string `parquet:"item_id" json:"item_id"`
	SrcPath  string `parquet:"src_path" json:"src_path"`
	DstPath  string `parquet:"dst_path" json:"dst_path"`
	Status   string `parquet:"status" json:"status"`
	Existing bool   `parquet:"existing" json:"existing"`
	Errors   string `parquet:"errors" json:"errors"`
}
