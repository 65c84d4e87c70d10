package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdejongh/bucketsync/pkg/output"
	syncengine "github.com/sdejongh/bucketsync/pkg/sync"
)

// DiffFlags holds diff command flags
type DiffFlags struct {
	Report       string
	ReportFormat string
}

// NewDiffCommand creates the diff command
func NewDiffCommand() *cobra.Command {
	var flags DiffFlags

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show what a sync would transfer",
		Long: `Compare the local collection with the bucket listing and print the objects
a sync would transfer, without transferring anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, flags)
		},
	}

	addJobFlags(cmd)
	cmd.Flags().StringVar(&flags.Report, "report", "", "write the differences report to file")
	cmd.Flags().StringVar(&flags.ReportFormat, "report-format", "human", "differences report format: human, json")

	return cmd
}

func runDiff(cmd *cobra.Command, flags DiffFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := newSession(cmd, jobBindings)
	if err != nil {
		return err
	}
	defer s.Close()

	params := s.cfg.Params()
	if err := params.Validate(); err != nil {
		return usageError(err)
	}
	// diff has no side effects on the bucket
	params.CreateBucket = false

	formatter := s.formatter()

	engine, err := syncengine.NewEngineForJob(ctx, &params, s.engineOptions())
	if err != nil {
		formatter.Error(err)
		return &ExitError{Code: ExitFailed}
	}

	diff, err := engine.Diff(ctx)
	if err != nil {
		formatter.Error(err)
		return &ExitError{Code: ExitFailed}
	}

	if err := formatter.Diff(diff); err != nil {
		return failedError(err)
	}

	if flags.Report != "" {
		info := output.ReportInfo{
			Source:   params.Source.Path,
			Endpoint: params.EndpointURL,
			Bucket:   params.Bucket,
		}
		if err := output.WriteDiffReport(diff, info, flags.Report, flags.ReportFormat); err != nil {
			return failedError(fmt.Errorf("failed to write differences report: %w", err))
		}
	}

	return nil
}
