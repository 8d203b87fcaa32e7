package model

import "time"

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// TaskRecord is a snapshot of a task handle, as reported and stored
type TaskRecord struct {
	ID       string       `json:"id"`
	Intent   Intent       `json:"intent"`
	TargetID string       `json:"target"`
	State    TaskState    `json:"state"`
	Created  time.Time    `json:"createdAt"`
	Updated  time.Time    `json:"updatedAt"`
	Run      *PipelineRun `json:"run,omitempty"`
}

// Finished returns true if the task will not change anymore
func (t TaskRecord) Finished() bool {
	return t.State == TaskSucceeded || t.State == TaskFailed
}
