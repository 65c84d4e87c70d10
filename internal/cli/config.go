package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sdejongh/bucketsync/pkg/config"
)

const redacted = "********"

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View or create the bucketsync configuration file.`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Print the configuration after flag and environment overrides. The secret
key is redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, jobBindings, transferBindings)
			if err != nil {
				return err
			}
			defer s.Close()

			cfg := *s.cfg
			if cfg.Job.SecretKey != "" {
				cfg.Job.SecretKey = redacted
			}

			fmt.Fprintf(s.stdout, "# %s\n", s.configPath)
			enc := yaml.NewEncoder(s.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(&cfg); err != nil {
				return failedError(err)
			}
			return enc.Close()
		},
	}

	addJobFlags(cmd)
	addTransferFlags(cmd)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigFile
			if path == "" {
				var err error
				if path, err = config.DefaultConfigPath(); err != nil {
					return usageError(err)
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return usageError(fmt.Errorf("configuration file %s already exists (use --force to overwrite)", path))
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return failedError(err)
			}

			if err := config.SaveToFile(config.Default(), path); err != nil {
				return failedError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration file")

	return cmd
}
