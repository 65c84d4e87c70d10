package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/sdejongh/bucketsync/pkg/logging"
	"github.com/sdejongh/bucketsync/pkg/models"
	"github.com/sdejongh/bucketsync/pkg/progress"
	syncengine "github.com/sdejongh/bucketsync/pkg/sync"
)

// DefaultSamplePeriod is how often progress records are persisted
const DefaultSamplePeriod = time.Second

// ErrUnknownRun is returned for identities with no run in this process
var ErrUnknownRun = errors.New("no run for this identity in this process")

// Syncer computes the diff of a job and transfers it
type Syncer interface {
	Diff(ctx context.Context) (*models.Diff, error)
	Transfer(ctx context.Context, diff *models.Diff) *syncengine.Stream
}

// EngineFactory builds the Syncer of a validated job
type EngineFactory func(ctx context.Context, params *models.JobParams) (Syncer, error)

// EngineFactoryFor returns a factory that opens the local source and the S3
// store of each job with opts
func EngineFactoryFor(opts syncengine.Options) EngineFactory {
	return func(ctx context.Context, params *models.JobParams) (Syncer, error) {
		return syncengine.NewEngineForJob(ctx, params, opts)
	}
}

// RunnerConfig holds the collaborators of a Runner
type RunnerConfig struct {
	Registry Registry
	Sink     Sink
	Factory  EngineFactory

	// SamplePeriod bounds how often progress reaches the sink
	SamplePeriod time.Duration

	Clock  clockwork.Clock
	Logger logging.Logger
}

// Runner drives sync jobs through IDLE, CALCULATING and TRANSFERRING to a
// terminal state, at most one run per identity
type Runner struct {
	config RunnerConfig

	mu   sync.Mutex
	runs map[Identity]*Run
}

// NewRunner creates a runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Registry == nil {
		config.Registry = NewMemoryRegistry()
	}
	if config.Sink == nil {
		config.Sink = MultiSink{}
	}
	if config.SamplePeriod <= 0 {
		config.SamplePeriod = DefaultSamplePeriod
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = logging.NewNullLogger()
	}
	return &Runner{config: config, runs: make(map[Identity]*Run)}
}

// Run is one run of a job owned by this process
type Run struct {
	Identity Identity
	RunID    string

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  models.JobState
	last   models.TransferProgress
	result models.JobResult
}

// State returns the current state of the run
func (r *Run) State() models.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns the last sampled progress
func (r *Run) Progress() models.TransferProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Done is closed once the run reached a terminal state
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the terminal result, valid once Done is closed
func (r *Run) Result() models.JobResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *Run) setState(s models.JobState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) setProgress(p models.TransferProgress) {
	r.mu.Lock()
	r.last = p
	r.mu.Unlock()
}

// Start computes the identity of params and starts a run for it. When a
// non-terminal run already holds the identity, here or in another process
// sharing the registry, no run is started and started is false.
func (r *Runner) Start(ctx context.Context, params models.JobParams) (Identity, bool, error) {
	id := IdentityFor(&params)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runs[id]; ok && !existing.State().IsTerminal() {
		return id, false, nil
	}

	runID := NewRunID()
	acquired, err := r.config.Registry.TryAcquire(ctx, Claim{Identity: id, RunID: runID, Params: params})
	if err != nil {
		return id, false, fmt.Errorf("failed to acquire %s: %w", id, err)
	}
	if !acquired {
		// the finished local run is superseded by the holder
		delete(r.runs, id)
		return id, false, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		Identity: id,
		RunID:    runID,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    models.StateIdle,
	}
	r.runs[id] = run

	go r.execute(runCtx, run, params)
	return id, true, nil
}

// Cancel requests cooperative cancellation of a local run
func (r *Runner) Cancel(id Identity) bool {
	run, ok := r.Get(id)
	if !ok || run.State().IsTerminal() {
		return false
	}
	run.cancel()
	return true
}

// Get returns the local run of id
func (r *Runner) Get(id Identity) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}

// Wait blocks until the local run of id is terminal and returns its result
func (r *Runner) Wait(ctx context.Context, id Identity) (models.JobResult, error) {
	run, ok := r.Get(id)
	if !ok {
		return models.JobResult{}, ErrUnknownRun
	}
	select {
	case <-run.Done():
		return run.Result(), nil
	case <-ctx.Done():
		return models.JobResult{}, ctx.Err()
	}
}

func (r *Runner) execute(ctx context.Context, run *Run, params models.JobParams) {
	logger := r.config.Logger.WithFields(logging.Fields{
		"job":    run.Identity.String(),
		"run_id": run.RunID,
	})
	// persistence outlives cancellation of the run
	persist := context.WithoutCancel(ctx)

	var g errgroup.Group
	pollCtx, stopPolling := context.WithCancel(ctx)
	g.Go(func() error {
		r.pollCancel(pollCtx, run)
		return nil
	})

	result := r.run(ctx, persist, run, &params, logger)

	stopPolling()
	g.Wait()
	run.cancel()

	if err := r.config.Sink.Finish(persist, run.Identity, result); err != nil {
		logger.Error(persist, "Failed to persist job result", err, nil)
	}
	if err := r.config.Registry.Release(persist, run.Identity); err != nil {
		logger.Error(persist, "Failed to release job", err, nil)
	}

	fields := logging.Fields{
		"state":   string(result.State),
		"objects": result.Progress.TransferredFiles,
		"bytes":   humanize.Bytes(uint64(result.Progress.TransferredBytes)),
	}
	switch result.State {
	case models.StateFailed:
		fields["error"] = result.Message
		logger.Warn(persist, "Sync job failed", fields)
	default:
		logger.Info(persist, "Sync job finished", fields)
	}

	run.mu.Lock()
	run.state = result.State
	run.result = result
	run.mu.Unlock()
	close(run.done)
}

func (r *Runner) run(ctx, persist context.Context, run *Run, params *models.JobParams, logger logging.Logger) models.JobResult {
	if err := params.Validate(); err != nil {
		return models.Failure(err.Error(), run.Progress())
	}

	logger.Info(ctx, "Starting sync job", logging.Fields{
		"direction": string(params.Direction),
		"bucket":    params.Bucket,
		"source":    params.Source.Path,
	})

	r.setState(persist, run, models.StateCalculating, logger)
	syncer, err := r.config.Factory(ctx, params)
	if err != nil {
		return r.terminal(ctx, run, err)
	}
	diff, err := syncer.Diff(ctx)
	if err != nil {
		return r.terminal(ctx, run, err)
	}

	last := models.TransferProgress{TotalFiles: diff.TotalObjects, TotalBytes: diff.TotalBytes}
	run.setProgress(last)
	r.setState(persist, run, models.StateTransferring, logger)

	stream := syncer.Transfer(ctx, diff)
	for p := range progress.Sample(ctx, stream.Progress(), r.config.SamplePeriod, r.config.Clock) {
		last = p
		run.setProgress(p)
		if err := r.config.Sink.Progress(persist, run.Identity, models.RecordFromProgress(p)); err != nil {
			logger.Warn(ctx, "Failed to persist progress", logging.Fields{"error": err.Error()})
		}
		r.checkCancel(ctx, run)
	}
	// the sampler stops early on cancellation; drain so the stream settles
	for p := range stream.Progress() {
		last = p
		run.setProgress(p)
	}

	// a stream that ended without error moved every object, even when the
	// cancel arrived after its last one
	if err := stream.Err(); err != nil {
		return r.terminal(ctx, run, err)
	}
	return models.Success(last)
}

// terminal turns a run error into a Cancelled or Failure result
func (r *Runner) terminal(ctx context.Context, run *Run, err error) models.JobResult {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return models.Cancelled(run.Progress())
	}
	return models.Failure(err.Error(), run.Progress())
}

func (r *Runner) setState(ctx context.Context, run *Run, state models.JobState, logger logging.Logger) {
	run.setState(state)
	if err := r.config.Sink.SetState(ctx, run.Identity, state); err != nil {
		logger.Warn(ctx, "Failed to persist job state", logging.Fields{
			"state": string(state),
			"error": err.Error(),
		})
	}
}

func (r *Runner) checkCancel(ctx context.Context, run *Run) {
	checker, ok := r.config.Sink.(CancelChecker)
	if !ok {
		return
	}
	requested, err := checker.CancelRequested(ctx, run.Identity)
	if err == nil && requested {
		run.cancel()
	}
}

// pollCancel checks for external cancellation requests once per sample
// period until ctx ends
func (r *Runner) pollCancel(ctx context.Context, run *Run) {
	if _, ok := r.config.Sink.(CancelChecker); !ok {
		return
	}
	ticker := r.config.Clock.NewTicker(r.config.SamplePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.checkCancel(ctx, run)
		}
	}
}
