package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand assembles the bucketsync command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bucketsync",
		Short: "Back up a local folder to S3 object storage",
		Long: `bucketsync keeps a local folder and an S3 compatible bucket in sync. It
uploads the objects missing from the bucket or downloads the ones missing
locally, reporting live progress and recording every job so it can be
followed, cancelled or resumed from another process.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags
	AddGlobalFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(NewSyncCommand())
	rootCmd.AddCommand(NewDiffCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewCancelCommand())
	rootCmd.AddCommand(NewResumeCommand())
	rootCmd.AddCommand(NewObjectsCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())

	// Flag parsing errors are usage errors
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	return rootCmd
}
