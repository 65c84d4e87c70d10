package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/jobhost"
	"github.com/sdejongh/bucketsync/pkg/logging"
	"github.com/sdejongh/bucketsync/pkg/models"
	"github.com/sdejongh/bucketsync/pkg/output"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [identity]",
		Short: "Show stored job records",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	store, err := s.openStore()
	if err != nil {
		return failedError(err)
	}
	defer store.Close()

	var records []*jobhost.Record
	if len(args) == 1 {
		rec, err := store.Get(ctx, job.Identity(args[0]))
		if errors.Is(err, jobhost.ErrNotFound) {
			return usageError(fmt.Errorf("no job %s", args[0]))
		}
		if err != nil {
			return failedError(err)
		}
		records = append(records, rec)
	} else if records, err = store.List(ctx); err != nil {
		return failedError(err)
	}

	if s.cfg.Output.Format == "json" {
		enc := json.NewEncoder(s.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(args) == 1 {
		return writeRecord(s.stdout, records[0])
	}
	return writeRecords(s.stdout, records)
}

func writeRecords(w io.Writer, records []*jobhost.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No jobs")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tSTATE\tATTEMPT\tPROGRESS\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.Identity, r.State, r.Attempt, recordProgress(r.ProgressRecord), humanize.Time(r.UpdatedAt))
	}
	return tw.Flush()
}

func writeRecord(w io.Writer, r *jobhost.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "Identity:\t%s\n", r.Identity)
	fmt.Fprintf(tw, "Run:\t%s (attempt %d)\n", r.RunID, r.Attempt)
	fmt.Fprintf(tw, "State:\t%s\n", r.State)
	fmt.Fprintf(tw, "Direction:\t%s\n", r.Params.Direction)
	fmt.Fprintf(tw, "Source:\t%s (%s)\n", r.Params.Source.Path, r.Params.Source.Type)
	fmt.Fprintf(tw, "Bucket:\t%s at %s\n", r.Params.Bucket, r.Params.EndpointURL)
	fmt.Fprintf(tw, "Progress:\t%s\n", recordProgress(r.ProgressRecord))
	if r.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", r.Error)
	}
	if r.CancelRequested {
		fmt.Fprintf(tw, "Cancel:\trequested\n")
	}
	fmt.Fprintf(tw, "Updated:\t%s\n", r.UpdatedAt.Format("2006-01-02 15:04:05"))
	return tw.Flush()
}

func recordProgress(r models.ProgressRecord) string {
	return fmt.Sprintf("%d/%d, %s of %s (%.1f%%)",
		r.ProgressCount, r.DiffCount,
		humanize.Bytes(uint64(r.ProgressBytes)), humanize.Bytes(uint64(r.DiffBytes)),
		r.ProgressPercentage*100)
}

// NewCancelCommand creates the cancel command
func NewCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <identity>",
		Short: "Request cancellation of a running job",
		Long: `Flag a running job for cancellation. The process running it stops at the
next object boundary and records the job as CANCELLED.`,
		Args: cobra.ExactArgs(1),
		RunE: runCancel,
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	store, err := s.openStore()
	if err != nil {
		return failedError(err)
	}
	defer store.Close()

	id := job.Identity(args[0])
	ok, err := store.RequestCancel(ctx, id)
	if err != nil {
		return failedError(err)
	}
	if !ok {
		return usageError(fmt.Errorf("no running job %s", id))
	}

	if !s.cfg.Output.Quiet {
		fmt.Fprintf(s.stdout, "Cancellation requested for %s\n", id)
	}
	return nil
}

// NewResumeCommand creates the resume command
func NewResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Restart jobs interrupted by a process exit",
		Long: `Restart every stored job left in a non-terminal state by a process that
exited without finishing it. Secret keys are not stored and are taken from
the configuration or the environment.`,
		Args: cobra.NoArgs,
		RunE: runResume,
	}

	cmd.Flags().String("secret-key", "", "secret key (or $BUCKETSYNC_SECRET_KEY)")

	return cmd
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := newSession(cmd, jobBindings)
	if err != nil {
		return err
	}
	defer s.Close()

	store, err := s.openStore()
	if err != nil {
		return failedError(err)
	}
	defer store.Close()

	stale, err := store.Stale(ctx)
	if err != nil {
		return failedError(err)
	}
	if len(stale) == 0 {
		if !s.cfg.Output.Quiet {
			fmt.Fprintln(s.stdout, "No interrupted jobs")
		}
		return nil
	}

	formatter := s.formatter()
	if len(stale) > 1 && formatter.Name() == "progress" {
		formatter = output.NewHumanFormatter(s.stdout, s.cfg.Output.Quiet)
	}
	host := s.newHost(store, lockedFormatter(formatter))

	var (
		mu   sync.Mutex
		code = ExitOK
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, rec := range stale {
		params := rec.Params
		if params.SecretKey == "" {
			params.SecretKey = s.cfg.Job.SecretKey
		}
		if err := params.Validate(); err != nil {
			s.logger.Error(ctx, "Cannot resume job", err, logging.Fields{"job": rec.Identity.String()})
			mu.Lock()
			code = max(code, ExitUsage)
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			result, err := host.Run(ctx, params)
			if err != nil {
				if errors.Is(err, jobhost.ErrHeldElsewhere) {
					return nil
				}
				return err
			}
			mu.Lock()
			code = max(code, ExitCode(resultError(result)))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failedError(err)
	}

	if code != ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

// lockedFormatter serializes the output of jobs resumed concurrently
func lockedFormatter(f output.Formatter) output.Formatter {
	return &serialFormatter{f: f}
}

type serialFormatter struct {
	mu sync.Mutex
	f  output.Formatter
}

func (s *serialFormatter) SetState(ctx context.Context, id job.Identity, state models.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.SetState(ctx, id, state)
}

func (s *serialFormatter) Progress(ctx context.Context, id job.Identity, r models.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Progress(ctx, id, r)
}

func (s *serialFormatter) Finish(ctx context.Context, id job.Identity, result models.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Finish(ctx, id, result)
}

func (s *serialFormatter) Diff(diff *models.Diff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Diff(diff)
}

func (s *serialFormatter) Error(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Error(err)
}

func (s *serialFormatter) Name() string { return s.f.Name() }
