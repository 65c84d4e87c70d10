package sync

import (
	"time"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// TaskStatus represents the status of one object transfer
type TaskStatus string

const (
	// TaskPending indicates the object has not been reached yet
	TaskPending TaskStatus = "pending"
	// TaskProcessing indicates the object stream is open
	TaskProcessing TaskStatus = "processing"
	// TaskCompleted indicates the object was transferred
	TaskCompleted TaskStatus = "completed"
	// TaskError indicates the transfer failed
	TaskError TaskStatus = "error"
)

// TaskResult represents what happened to the object
type TaskResult string

const (
	// ResultUploaded indicates the object was written to the bucket
	ResultUploaded TaskResult = "uploaded"
	// ResultDownloaded indicates the object was written locally
	ResultDownloaded TaskResult = "downloaded"
	// ResultFailed indicates the transfer failed
	ResultFailed TaskResult = "failed"
)

// FileTask tracks one diffed object through the pipeline
type FileTask struct {
	// Key is the object key
	Key string

	// Direction the object moves in
	Direction models.Direction

	// Size is the listed size in bytes
	Size int64

	// Status tracks the current state of this task
	Status TaskStatus

	// Result indicates what action was taken
	Result TaskResult

	// Error holds any error that occurred during processing
	Error error

	// BytesTransferred tracks how many bytes were actually transferred
	BytesTransferred int64

	// ProcessingDuration is the time from stream open to completion
	ProcessingDuration time.Duration

	// Index is the position of the object in the transfer set
	Index int
}

// NewFileTask creates a pending task for a diffed object
func NewFileTask(obj models.Object, direction models.Direction, index int) *FileTask {
	return &FileTask{
		Key:       obj.ObjectKey(),
		Direction: direction,
		Size:      obj.ObjectSize(),
		Status:    TaskPending,
		Index:     index,
	}
}

// MarkProcessing marks the task's stream as open
func (t *FileTask) MarkProcessing() {
	t.Status = TaskProcessing
}

// MarkCompleted marks the task as successfully completed
func (t *FileTask) MarkCompleted(bytesTransferred int64, duration time.Duration) {
	t.Status = TaskCompleted
	t.Result = ResultUploaded
	if t.Direction == models.DirectionDownload {
		t.Result = ResultDownloaded
	}
	t.BytesTransferred = bytesTransferred
	t.ProcessingDuration = duration
}

// MarkError marks the task as failed with an error
func (t *FileTask) MarkError(err error, bytesTransferred int64, duration time.Duration) {
	t.Status = TaskError
	t.Result = ResultFailed
	t.Error = err
	t.BytesTransferred = bytesTransferred
	t.ProcessingDuration = duration
}
