package model

import (
	"fmt"
	"strings"
)

// IngestStatus is the lifecycle stage of an Ingest.
type IngestStatus string

const (
	StatusCreated             IngestStatus = "created"
	StatusScanning            IngestStatus = "scanning"
	StatusInReview            IngestStatus = "in_review"
	StatusPreparing           IngestStatus = "preparing"
	StatusUploading           IngestStatus = "uploading"
	StatusResolving           IngestStatus = "resolving"
	StatusDetectingDuplicates IngestStatus = "detecting_duplicates"
	StatusFinalizing          IngestStatus = "finalizing"
	StatusFinished            IngestStatus = "finished"
	StatusAborted             IngestStatus = "aborted"
	StatusFailed              IngestStatus = "failed"
)

// AllIngestStatuses lists ingest statuses in lifecycle order.
var AllIngestStatuses = []IngestStatus{
	StatusCreated,
	StatusScanning,
	StatusInReview,
	StatusPreparing,
	StatusUploading,
	StatusResolving,
	StatusDetectingDuplicates,
	StatusFinalizing,
	StatusFinished,
	StatusAborted,
	StatusFailed,
}

var terminalIngestStatuses = map[IngestStatus]struct{}{
	StatusFinished: {},
	StatusAborted:  {},
	StatusFailed:   {},
}

// IsTerminal reports whether no further transitions are expected.
func (s IngestStatus) IsTerminal() bool {
	_, ok := terminalIngestStatuses[s]
	return ok
}

// ParseIngestStatus converts a string into an IngestStatus.
func ParseIngestStatus(value string) (IngestStatus, error) {
	normalized := IngestStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range AllIngestStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown ingest status %q", value)
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// AllTaskStatuses lists task statuses; pending and running are the unfinished ones.
var AllTaskStatuses = []TaskStatus{
	TaskPending,
	TaskRunning,
	TaskCompleted,
	TaskFailed,
	TaskCanceled,
}

// IsTerminal reports whether the task has finished one way or another.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCanceled
}

// ParseTaskStatus converts a string into a TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, error) {
	normalized := TaskStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range AllTaskStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", value)
}

// TaskType names the kind of work a Task carries.
type TaskType string

const (
	TaskScan             TaskType = "scan"
	TaskExtractUID       TaskType = "extract_uid"
	TaskPrepare          TaskType = "prepare"
	TaskUpload           TaskType = "upload"
	TaskResolve          TaskType = "resolve"
	TaskDetectDuplicates TaskType = "detect_duplicates"
	TaskFinalize         TaskType = "finalize"
)

// AllTaskTypes lists task types in pipeline order.
var AllTaskTypes = []TaskType{
	TaskScan,
	TaskExtractUID,
	TaskPrepare,
	TaskUpload,
	TaskResolve,
	TaskDetectDuplicates,
	TaskFinalize,
}

// singletonStages maps the stages that run exactly one task to the ingest
// status they put the ingest in.
var singletonStages = map[TaskType]IngestStatus{
	TaskResolve:          StatusResolving,
	TaskDetectDuplicates: StatusDetectingDuplicates,
	TaskFinalize:         StatusFinalizing,
}

// SingletonStatus returns the ingest status for a singleton stage task type.
func SingletonStatus(t TaskType) (IngestStatus, bool) {
	s, ok := singletonStages[t]
	return s, ok
}

// ParseTaskType converts a string into a TaskType.
func ParseTaskType(value string) (TaskType, error) {
	normalized := TaskType(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range AllTaskTypes {
		if t == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task type %q", value)
}
