package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMaintenance carries periodic rebuild and integrity runs.
	QueueMaintenance = "maintenance"

	// TaskJournalize posts the auto journal entry of one business document.
	TaskJournalize = "ledger:journalize"
	// TaskRebuild recomputes the settlement cache of source lines.
	TaskRebuild = "reconciliation:rebuild"
	// TaskGLIntegrity compares booked journal headers against their lines.
	TaskGLIntegrity = "ledger:integrity"
)

// TaskTypes lists every task the worker knows how to process.
var TaskTypes = []string{TaskJournalize, TaskRebuild, TaskGLIntegrity}

// JournalizePayload identifies the document to journalize.
type JournalizePayload struct {
	SourceType string `json:"source_type"`
	SourceID   int64  `json:"source_id"`
	ActorID    int64  `json:"actor_id,omitempty"`
}

// NewJournalizeTask constructs a journalize task. The task ID is derived from the
// document so that duplicate submissions collapse while one is still queued.
func NewJournalizeTask(payload JournalizePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("journalize:%s:%d", payload.SourceType, payload.SourceID)
	return asynq.NewTask(TaskJournalize, data, asynq.MaxRetry(5), asynq.TaskID(id)), nil
}

// RebuildPayload scopes a cache rebuild. An empty SourceType rebuilds every type.
type RebuildPayload struct {
	SourceType string `json:"source_type,omitempty"`
}

// NewRebuildTask constructs a reconciliation rebuild task.
func NewRebuildTask(payload RebuildPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRebuild, data, asynq.MaxRetry(1)), nil
}

// NewGLIntegrityTask constructs a general ledger integrity task.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGLIntegrity, nil, asynq.MaxRetry(1))
}
