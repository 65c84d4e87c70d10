package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/jobhost"
	"github.com/sdejongh/bucketsync/pkg/models"
	"github.com/sdejongh/bucketsync/pkg/output"
)

// ErrOwnerExited is returned when the process running a watched job exits
// without finishing it
var ErrOwnerExited = errors.New("job owner exited before the job finished")

// SyncFlags holds sync command flags
type SyncFlags struct {
	RequireOnline time.Duration
	MinFreeSpace  string
}

// NewSyncCommand creates the sync command
func NewSyncCommand() *cobra.Command {
	var flags SyncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize a local folder with a bucket",
		Long: `Upload the local objects missing from the bucket, or download the remote
objects missing locally, reporting live progress. A job already running in
another process is followed instead of started again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, flags)
		},
	}

	addJobFlags(cmd)
	addTransferFlags(cmd)
	cmd.Flags().DurationVar(&flags.RequireOnline, "require-online", 0, "wait until the endpoint answers within this timeout before starting")
	cmd.Flags().StringVar(&flags.MinFreeSpace, "min-free-space", "", "wait until the download target has this much free space (e.g., \"5GB\")")

	return cmd
}

func runSync(cmd *cobra.Command, flags SyncFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := newSession(cmd, jobBindings, transferBindings)
	if err != nil {
		return err
	}
	defer s.Close()

	params := s.cfg.Params()
	if err := params.Validate(); err != nil {
		return usageError(err)
	}

	var constraints []jobhost.Constraint
	if flags.RequireOnline > 0 {
		constraints = append(constraints, jobhost.EndpointReachable(flags.RequireOnline))
	}
	if flags.MinFreeSpace != "" {
		free, err := humanize.ParseBytes(flags.MinFreeSpace)
		if err != nil {
			return usageError(fmt.Errorf("invalid --min-free-space %q: %w", flags.MinFreeSpace, err))
		}
		constraints = append(constraints, jobhost.FreeSpace(free))
	}

	store, err := s.openStore()
	if err != nil {
		return failedError(err)
	}
	defer store.Close()

	formatter := s.formatter()
	host := s.newHost(store, formatter, constraints...)

	result, err := host.Run(ctx, params)
	if errors.Is(err, jobhost.ErrHeldElsewhere) {
		s.logger.Info(ctx, "Job is running in another process, following it", nil)
		result, err = attach(ctx, store, job.IdentityFor(&params), formatter, clockwork.NewRealClock(), s.pollInterval())
	}
	if err != nil {
		formatter.Error(err)
		if errors.Is(err, context.Canceled) {
			return &ExitError{Code: ExitCancelled}
		}
		return &ExitError{Code: ExitFailed}
	}

	return resultError(result)
}

// attach follows a job owned by another process through the store until it
// reaches a terminal state. Interrupting an attached client detaches it
// without cancelling the job.
func attach(ctx context.Context, store *jobhost.Store, id job.Identity, formatter output.Formatter, clock clockwork.Clock, interval time.Duration) (models.JobResult, error) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	var (
		state models.JobState
		last  models.ProgressRecord
	)
	for {
		rec, err := store.Get(ctx, id)
		if err != nil {
			return models.JobResult{}, fmt.Errorf("failed to read job %s: %w", id, err)
		}

		if rec.State.IsTerminal() {
			result := models.JobResult{
				State:    rec.State,
				Progress: rec.Progress(),
				Message:  rec.Error,
			}
			formatter.Finish(ctx, id, result)
			return result, nil
		}

		if rec.State != state {
			state = rec.State
			formatter.SetState(ctx, id, state)
		}
		if state == models.StateTransferring && rec.ProgressRecord != last {
			last = rec.ProgressRecord
			formatter.Progress(ctx, id, last)
		}

		if stale, err := isStale(ctx, store, id); err != nil {
			return models.JobResult{}, err
		} else if stale {
			return models.JobResult{}, ErrOwnerExited
		}

		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return models.JobResult{}, ctx.Err()
		}
	}
}

func isStale(ctx context.Context, store *jobhost.Store, id job.Identity) (bool, error) {
	stale, err := store.Stale(ctx)
	if err != nil {
		return false, err
	}
	for _, rec := range stale {
		if rec.Identity == id {
			return true, nil
		}
	}
	return false, nil
}
