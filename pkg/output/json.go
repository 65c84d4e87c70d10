package output

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"

	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/models"
)

// JSONFormatter writes one JSON event per line for automation and scripting
type JSONFormatter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	clock   clockwork.Clock
}

// JSONEvent represents a single event in the JSON output stream
type JSONEvent struct {
	Timestamp time.Time    `json:"timestamp"`
	Type      string       `json:"type"`
	Job       job.Identity `json:"job,omitempty"`
	Data      any          `json:"data,omitempty"`
}

// JSONStateData represents the data for a state event
type JSONStateData struct {
	State models.JobState `json:"state"`
}

// JSONDiffData represents a computed diff
type JSONDiffData struct {
	Direction    models.Direction `json:"direction"`
	LocalCount   int              `json:"local_count"`
	RemoteCount  int              `json:"remote_count"`
	TotalObjects int              `json:"total_objects"`
	TotalBytes   int64            `json:"total_bytes"`
	Objects      []JSONObjectData `json:"objects"`
}

// JSONObjectData represents one object to transfer
type JSONObjectData struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// JSONErrorData represents an error
type JSONErrorData struct {
	Error string `json:"error"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return NewJSONFormatterWithClock(w, clockwork.NewRealClock())
}

// NewJSONFormatterWithClock creates a JSON formatter stamping events with clock
func NewJSONFormatterWithClock(w io.Writer, clock clockwork.Clock) *JSONFormatter {
	return &JSONFormatter{encoder: json.NewEncoder(w), clock: clock}
}

func (f *JSONFormatter) write(eventType string, id job.Identity, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoder.Encode(JSONEvent{
		Timestamp: f.clock.Now().UTC(),
		Type:      eventType,
		Job:       id,
		Data:      data,
	})
}

// SetState implements job.Sink
func (f *JSONFormatter) SetState(_ context.Context, id job.Identity, state models.JobState) error {
	return f.write("state", id, JSONStateData{State: state})
}

// Progress implements job.Sink
func (f *JSONFormatter) Progress(_ context.Context, id job.Identity, r models.ProgressRecord) error {
	return f.write("progress", id, r)
}

// Finish implements job.Sink
func (f *JSONFormatter) Finish(_ context.Context, id job.Identity, result models.JobResult) error {
	return f.write("result", id, result)
}

// Diff reports a computed diff
func (f *JSONFormatter) Diff(diff *models.Diff) error {
	objects := make([]JSONObjectData, 0, len(diff.ToTransfer))
	for _, obj := range diff.ToTransfer {
		objects = append(objects, JSONObjectData{Key: obj.ObjectKey(), Size: obj.ObjectSize()})
	}
	return f.write("diff", "", JSONDiffData{
		Direction:    diff.Direction,
		LocalCount:   len(diff.Locals),
		RemoteCount:  len(diff.Remotes),
		TotalObjects: diff.TotalObjects,
		TotalBytes:   diff.TotalBytes,
		Objects:      objects,
	})
}

// Error reports an error
func (f *JSONFormatter) Error(err error) error {
	return f.write("error", "", JSONErrorData{Error: err.Error()})
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}
