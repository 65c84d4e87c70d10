package job

import (
	"context"
	"errors"
	"sync"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// Sink receives the observable life of a run: state changes, one progress
// record per sampled tick and the terminal result
type Sink interface {
	SetState(ctx context.Context, id Identity, state models.JobState) error
	Progress(ctx context.Context, id Identity, record models.ProgressRecord) error
	Finish(ctx context.Context, id Identity, result models.JobResult) error
}

// CancelChecker is implemented by sinks that carry cancellation requests
// from outside the process
type CancelChecker interface {
	CancelRequested(ctx context.Context, id Identity) (bool, error)
}

// MultiSink forwards every call to each sink in order
type MultiSink []Sink

// SetState implements Sink
func (m MultiSink) SetState(ctx context.Context, id Identity, state models.JobState) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SetState(ctx, id, state))
	}
	return errors.Join(errs...)
}

// Progress implements Sink
func (m MultiSink) Progress(ctx context.Context, id Identity, record models.ProgressRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Progress(ctx, id, record))
	}
	return errors.Join(errs...)
}

// Finish implements Sink
func (m MultiSink) Finish(ctx context.Context, id Identity, result models.JobResult) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Finish(ctx, id, result))
	}
	return errors.Join(errs...)
}

// CancelRequested reports true when any member sink reports a request
func (m MultiSink) CancelRequested(ctx context.Context, id Identity) (bool, error) {
	for _, s := range m {
		c, ok := s.(CancelChecker)
		if !ok {
			continue
		}
		requested, err := c.CancelRequested(ctx, id)
		if err != nil {
			return false, err
		}
		if requested {
			return true, nil
		}
	}
	return false, nil
}

// Event is one call recorded by a RecordingSink
type Event struct {
	Identity Identity
	State    models.JobState
	Record   *models.ProgressRecord
	Result   *models.JobResult
}

// RecordingSink keeps every call in memory
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
	cancel map[Identity]bool
}

// NewRecordingSink creates an empty recording sink
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{cancel: make(map[Identity]bool)}
}

// SetState implements Sink
func (r *RecordingSink) SetState(_ context.Context, id Identity, state models.JobState) error {
	r.append(Event{Identity: id, State: state})
	return nil
}

// Progress implements Sink
func (r *RecordingSink) Progress(_ context.Context, id Identity, record models.ProgressRecord) error {
	r.append(Event{Identity: id, Record: &record})
	return nil
}

// Finish implements Sink
func (r *RecordingSink) Finish(_ context.Context, id Identity, result models.JobResult) error {
	r.append(Event{Identity: id, State: result.State, Result: &result})
	return nil
}

// RequestCancel marks id so that CancelRequested reports true
func (r *RecordingSink) RequestCancel(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel[id] = true
}

// CancelRequested implements CancelChecker
func (r *RecordingSink) CancelRequested(_ context.Context, id Identity) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel[id], nil
}

// Events returns a copy of the recorded calls
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// States returns the recorded state changes in order
func (r *RecordingSink) States() []models.JobState {
	var states []models.JobState
	for _, e := range r.Events() {
		if e.State != "" {
			states = append(states, e.State)
		}
	}
	return states
}

// Records returns the recorded progress records in order
func (r *RecordingSink) Records() []models.ProgressRecord {
	var records []models.ProgressRecord
	for _, e := range r.Events() {
		if e.Record != nil {
			records = append(records, *e.Record)
		}
	}
	return records
}

func (r *RecordingSink) append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}
