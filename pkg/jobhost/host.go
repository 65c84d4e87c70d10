package jobhost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v4/disk"
	"golang.org/x/sync/semaphore"

	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/logging"
	"github.com/sdejongh/bucketsync/pkg/models"
)

// ErrHeldElsewhere is returned when another process runs the job
var ErrHeldElsewhere = errors.New("job is running in another process")

// Constraint gates the start of a run. A non-nil error keeps the job BLOCKED.
type Constraint interface {
	Check(ctx context.Context, params *models.JobParams) error
}

// ConstraintFunc adapts a function to Constraint
type ConstraintFunc func(ctx context.Context, params *models.JobParams) error

// Check implements Constraint
func (f ConstraintFunc) Check(ctx context.Context, params *models.JobParams) error {
	return f(ctx, params)
}

// EndpointReachable blocks jobs whose endpoint does not accept TCP connections
func EndpointReachable(timeout time.Duration) Constraint {
	return ConstraintFunc(func(ctx context.Context, params *models.JobParams) error {
		u, err := url.Parse(params.EndpointURL)
		if err != nil {
			return err
		}
		port := u.Port()
		if port == "" {
			port = "443"
			if u.Scheme == "http" {
				port = "80"
			}
		}
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
		if err != nil {
			return fmt.Errorf("endpoint %s unreachable: %w", u.Host, err)
		}
		return conn.Close()
	})
}

// FreeSpace blocks downloads while the filesystem holding the source path has
// less than min bytes free
func FreeSpace(min uint64) Constraint {
	return ConstraintFunc(func(ctx context.Context, params *models.JobParams) error {
		if params.Direction != models.DirectionDownload {
			return nil
		}
		dir := existingParent(params.Source.Path)
		usage, err := disk.UsageWithContext(ctx, dir)
		if err != nil {
			return fmt.Errorf("failed to read free space of %s: %w", dir, err)
		}
		if usage.Free < min {
			return fmt.Errorf("%s free on %s, need %s",
				humanize.Bytes(usage.Free), dir, humanize.Bytes(min))
		}
		return nil
	})
}

// existingParent returns p or its closest existing ancestor
func existingParent(p string) string {
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// HostConfig holds configuration for the job host
type HostConfig struct {
	// MaxConcurrent bounds how many distinct jobs run at once
	MaxConcurrent int

	// MaxAttempts is the number of runs tried before a failure is final
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BlockedRetry is how often constraints are re-checked while BLOCKED
	BlockedRetry time.Duration

	Constraints []Constraint

	// Sink receives the scheduler states ENQUEUED, BLOCKED and WAITING
	Sink job.Sink

	Clock  clockwork.Clock
	Logger logging.Logger
}

// DefaultHostConfig returns sensible defaults
func DefaultHostConfig() HostConfig {
	return HostConfig{
		MaxConcurrent:  2,
		MaxAttempts:    3,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     10 * time.Minute,
		BlockedRetry:   time.Minute,
	}
}

// Host schedules job runs: it waits for constraints, bounds concurrency and
// retries failed runs with exponential backoff, each attempt a fresh run
type Host struct {
	runner *job.Runner
	config HostConfig
	sem    *semaphore.Weighted
}

// NewHost creates a host running jobs with runner
func NewHost(runner *job.Runner, config HostConfig) *Host {
	defaults := DefaultHostConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.BlockedRetry <= 0 {
		config.BlockedRetry = defaults.BlockedRetry
	}
	if config.Sink == nil {
		config.Sink = job.MultiSink{}
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = logging.NewNullLogger()
	}
	return &Host{
		runner: runner,
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Backoff returns the delay before the attempt following attempt
func (h *Host) Backoff(attempt int) time.Duration {
	d := h.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= h.config.MaxBackoff {
			return h.config.MaxBackoff
		}
	}
	return d
}

// Run runs the job of params to a final result. A run of the same job already
// owned by this process is attached to; one owned by another process yields
// ErrHeldElsewhere.
func (h *Host) Run(ctx context.Context, params models.JobParams) (models.JobResult, error) {
	id := job.IdentityFor(&params)
	logger := h.config.Logger.WithFields(logging.Fields{"job": id.String()})

	h.report(ctx, id, models.HostEnqueued)
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return models.Cancelled(models.TransferProgress{}), nil
	}
	defer h.sem.Release(1)

	var result models.JobResult
	for attempt := 1; ; attempt++ {
		if err := h.waitConstraints(ctx, id, &params, logger); err != nil {
			return models.Cancelled(result.Progress), nil
		}

		_, started, err := h.runner.Start(ctx, params)
		if err != nil {
			return models.JobResult{}, err
		}
		if !started {
			if _, local := h.runner.Get(id); !local {
				return models.JobResult{}, ErrHeldElsewhere
			}
			logger.Info(ctx, "Attaching to running job", nil)
		}

		result, err = h.runner.Wait(ctx, id)
		if err != nil {
			h.runner.Cancel(id)
			return h.runner.Wait(context.WithoutCancel(ctx), id)
		}
		if result.State != models.StateFailed || attempt >= h.config.MaxAttempts {
			return result, nil
		}

		delay := h.Backoff(attempt)
		logger.Warn(ctx, "Sync job failed, retrying", logging.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   result.Message,
		})
		h.report(ctx, id, models.HostWaiting)
		select {
		case <-h.config.Clock.After(delay):
		case <-ctx.Done():
			return models.Cancelled(result.Progress), nil
		}
	}
}

// waitConstraints blocks until every constraint passes or ctx ends
func (h *Host) waitConstraints(ctx context.Context, id job.Identity, params *models.JobParams, logger logging.Logger) error {
	for {
		err := h.checkConstraints(ctx, params)
		if err == nil {
			return nil
		}
		logger.Info(ctx, "Sync job blocked", logging.Fields{"reason": err.Error()})
		h.report(ctx, id, models.HostBlocked)
		select {
		case <-h.config.Clock.After(h.config.BlockedRetry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Host) checkConstraints(ctx context.Context, params *models.JobParams) error {
	for _, c := range h.config.Constraints {
		if err := c.Check(ctx, params); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) report(ctx context.Context, id job.Identity, state models.HostState) {
	if err := h.config.Sink.SetState(ctx, id, models.ClassifyHostState(state, "")); err != nil {
		h.config.Logger.Warn(ctx, "Failed to report job state", logging.Fields{
			"job":   id.String(),
			"state": string(state),
			"error": err.Error(),
		})
	}
}
