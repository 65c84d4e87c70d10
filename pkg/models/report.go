package models

// TransferProgress is one aggregate snapshot of a running transfer
type TransferProgress struct {
	TransferredBytes int64 `json:"transferredBytes"`

	// TransferredFiles counts objects whose transfer has started
	TransferredFiles int `json:"transferredFiles"`

	// Percentage is in [0,1]
	Percentage float64 `json:"percentage"`

	// BytesPerSecond is the instantaneous throughput, nil before the first byte event
	BytesPerSecond *int64 `json:"bytesPerSecond,omitempty"`

	TotalFiles int   `json:"totalFiles"`
	TotalBytes int64 `json:"totalBytes"`
}

// ProgressRecord is the record persisted by the job host at each sampled tick
type ProgressRecord struct {
	ProgressCount       int     `json:"progressCount" db:"progress_count"`
	ProgressBytes       int64   `json:"progressBytes" db:"progress_bytes"`
	ProgressBytesPerSec *int64  `json:"progressBytesPerSec,omitempty" db:"progress_bytes_per_sec"`
	ProgressPercentage  float64 `json:"progressPercentage" db:"progress_percentage"`
	DiffCount           int     `json:"diffCount" db:"diff_count"`
	DiffBytes           int64   `json:"diffBytes" db:"diff_bytes"`

	// Error is set on terminal failure records only
	Error string `json:"error,omitempty" db:"error"`
}

// RecordFromProgress builds the persisted record for a snapshot
func RecordFromProgress(p TransferProgress) ProgressRecord {
	return ProgressRecord{
		ProgressCount:       p.TransferredFiles,
		ProgressBytes:       p.TransferredBytes,
		ProgressBytesPerSec: p.BytesPerSecond,
		ProgressPercentage:  p.Percentage,
		DiffCount:           p.TotalFiles,
		DiffBytes:           p.TotalBytes,
	}
}

// Progress converts the record back into a snapshot
func (r ProgressRecord) Progress() TransferProgress {
	return TransferProgress{
		TransferredBytes: r.ProgressBytes,
		TransferredFiles: r.ProgressCount,
		Percentage:       r.ProgressPercentage,
		BytesPerSecond:   r.ProgressBytesPerSec,
		TotalFiles:       r.DiffCount,
		TotalBytes:       r.DiffBytes,
	}
}

// JobResult is the terminal outcome of one run
type JobResult struct {
	// State is StateSucceeded, StateFailed or StateCancelled
	State JobState `json:"state"`

	// Progress is the final progress on success, the last known one otherwise
	Progress TransferProgress `json:"progress"`

	// Message is the human readable failure reason, empty unless failed
	Message string `json:"message,omitempty"`
}

// Success returns a successful result carrying the final progress
func Success(final TransferProgress) JobResult {
	return JobResult{State: StateSucceeded, Progress: final}
}

// Failure returns a failed result carrying the last known progress
func Failure(message string, lastKnown TransferProgress) JobResult {
	return JobResult{State: StateFailed, Progress: lastKnown, Message: message}
}

// Cancelled returns a cancelled result carrying the last known progress
func Cancelled(lastKnown TransferProgress) JobResult {
	return JobResult{State: StateCancelled, Progress: lastKnown}
}

// Record returns the persisted form of the result
func (r JobResult) Record() ProgressRecord {
	rec := RecordFromProgress(r.Progress)
	if r.State == StateFailed {
		rec.Error = r.Message
	}
	return rec
}
