package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/sdejongh/bucketsync/pkg/logging"
	"github.com/sdejongh/bucketsync/pkg/models"
	"github.com/sdejongh/bucketsync/pkg/storage"
)

// NewObjectsCommand creates the objects command
func NewObjectsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "Inspect the objects of a bucket",
	}

	cmd.AddCommand(newObjectsListCommand())
	cmd.AddCommand(newObjectsRemoveCommand())

	return cmd
}

func newObjectsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the objects of the bucket",
		Args:    cobra.NoArgs,
		RunE:    runObjectsList,
	}
	addJobFlags(cmd)
	return cmd
}

func newObjectsRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <key>...",
		Aliases: []string{"remove"},
		Short:   "Remove objects from the bucket",
		Args:    cobra.MinimumNArgs(1),
		RunE:    runObjectsRemove,
	}
	addJobFlags(cmd)
	return cmd
}

// openBucket connects to the bucket named by the configuration
func openBucket(ctx context.Context, cmd *cobra.Command) (*session, *storage.S3Store, error) {
	s, err := newSession(cmd, jobBindings)
	if err != nil {
		return nil, nil, err
	}

	params := s.cfg.Params()
	if err := validateRemote(&params); err != nil {
		s.Close()
		return nil, nil, usageError(err)
	}

	store, err := storage.NewS3Store(ctx, storage.S3ConfigFromParams(&params))
	if err != nil {
		s.Close()
		return nil, nil, failedError(err)
	}
	return s, store, nil
}

func runObjectsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, store, err := openBucket(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	objects, err := store.List(ctx)
	if err != nil {
		return failedError(storage.NormalizeError(err))
	}

	if s.cfg.Output.Format == "json" {
		enc := json.NewEncoder(s.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(objects)
	}
	return writeObjects(s, objects)
}

func writeObjects(s *session, objects []models.RemoteObject) error {
	var total int64
	tw := tabwriter.NewWriter(s.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
	for _, o := range objects {
		total += o.Size
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Name, humanize.Bytes(uint64(o.Size)), o.ModifiedAt.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.stdout, "%d objects, %s\n", len(objects), humanize.Bytes(uint64(total)))
	return err
}

func runObjectsRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, store, err := openBucket(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, key := range args {
		if err := store.Remove(ctx, key); err != nil {
			return failedError(fmt.Errorf("failed to remove %s: %w", key, storage.NormalizeError(err)))
		}
		s.logger.Info(ctx, "Removed object", logging.Fields{"key": key})
		if !s.cfg.Output.Quiet {
			fmt.Fprintf(s.stdout, "Removed %s\n", key)
		}
	}
	return nil
}
