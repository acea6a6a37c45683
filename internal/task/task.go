// Package task implements the durable task queue and batch scheduler (C1):
// it accepts tasks, groups compatible ones into batches, dispatches each
// batch, records outcomes, and answers filtered queries and cancellations.
package task

import "time"

// Kind identifies what a task does.
type Kind string

const (
	KindIndexCreation   Kind = "indexCreation"
	KindIndexUpdate     Kind = "indexUpdate"
	KindIndexDeletion   Kind = "indexDeletion"
	KindIndexSwap       Kind = "indexSwap"
	KindDocumentImport  Kind = "documentImport"
	KindDocumentDeletion Kind = "documentDeletion"
	KindSettingsUpdate  Kind = "settingsUpdate"
	KindTaskCancelation Kind = "taskCancelation"
	KindTaskDeletion    Kind = "taskDeletion"
	KindSnapshotCreation Kind = "snapshotCreation"
	KindDumpCreation    Kind = "dumpCreation"
)

// ImportMethod distinguishes the two DocumentImport variants the
// autobatch compatibility matrix treats differently.
type ImportMethod string

const (
	ImportReplace ImportMethod = "replace"
	ImportUpdate  ImportMethod = "update"
)

// Status is a task's position in the state machine of §4.1.5.
type Status string

const (
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Task is one unit of work accepted by Submit.
type Task struct {
	UID          uint64       `json:"uid"`
	Kind         Kind         `json:"kind"`
	ImportMethod ImportMethod `json:"import_method,omitempty"`
	IndexUID     string       `json:"index_uid,omitempty"`
	ContentFile  string       `json:"content_file,omitempty"`

	Status      Status `json:"status"`
	BatchUID    uint64 `json:"batch_uid,omitempty"`
	CanceledBy  uint64 `json:"canceled_by,omitempty"`
	Error       *TaskError `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TaskError is the captured error kind/message attached to a Failed task.
type TaskError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Batch groups one or more compatible tasks dispatched together (§4.1.2).
type Batch struct {
	UID      uint64   `json:"uid"`
	TaskUIDs []uint64 `json:"task_uids"`
	IndexUID string   `json:"index_uid,omitempty"`

	Status     Status         `json:"status"`
	Progress   BatchProgress  `json:"progress"`
	Stats      map[string]any `json:"stats,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// BatchProgress is a live snapshot of an in-flight batch, updated by C2
// the way the teacher's async.IndexProgress is updated by its background
// indexer — a supplement over the distilled spec, which names the
// `progress?` field but does not specify how it is kept current.
type BatchProgress struct {
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	StepName    string `json:"step_name"`
}
