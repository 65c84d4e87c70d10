package models

// JobState is the lifecycle state of one sync job
type JobState string

const (
	StateIdle         JobState = "IDLE"
	StateEnqueued     JobState = "ENQUEUED"
	StateBlocked      JobState = "BLOCKED"
	StateWaiting      JobState = "WAITING"
	StateCalculating  JobState = "CALCULATING"
	StateTransferring JobState = "TRANSFERRING"
	StateSucceeded    JobState = "SUCCEEDED"
	StateFailed       JobState = "FAILED"
	StateCancelled    JobState = "CANCELLED"
)

// IsTerminal reports whether no further progress follows s
func (s JobState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// HostState is a state reported by the job host scheduler
type HostState string

const (
	HostEnqueued  HostState = "ENQUEUED"
	HostBlocked   HostState = "BLOCKED"
	HostWaiting   HostState = "WAITING"
	HostRunning   HostState = "RUNNING"
	HostSucceeded HostState = "SUCCEEDED"
	HostFailed    HostState = "FAILED"
	HostCancelled HostState = "CANCELLED"
)

// ClassifyHostState maps a scheduler state onto a job state. phase is the
// last state the runner reported and refines RUNNING; unknown host states
// classify as IDLE.
func ClassifyHostState(hs HostState, phase JobState) JobState {
	switch hs {
	case HostEnqueued:
		return StateEnqueued
	case HostBlocked:
		return StateBlocked
	case HostWaiting:
		return StateWaiting
	case HostRunning:
		if phase == StateTransferring {
			return StateTransferring
		}
		return StateCalculating
	case HostSucceeded:
		return StateSucceeded
	case HostFailed:
		return StateFailed
	case HostCancelled:
		return StateCancelled
	}
	return StateIdle
}
