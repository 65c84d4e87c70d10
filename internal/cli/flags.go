package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the CLI
const EnvPrefix = "BUCKETSYNC"

// GlobalFlags holds global flag values
type GlobalFlags struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

// AddGlobalFlags adds global flags to the root command
func AddGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(
		&globalFlags.ConfigFile,
		"config",
		"c",
		"",
		"config file (default is $HOME/.config/bucketsync/config.yaml)",
	)
	cmd.PersistentFlags().BoolVarP(
		&globalFlags.Verbose,
		"verbose",
		"v",
		false,
		"verbose output",
	)
	cmd.PersistentFlags().BoolVarP(
		&globalFlags.Quiet,
		"quiet",
		"q",
		false,
		"suppress non-error output",
	)
	cmd.PersistentFlags().StringP("output", "o", "", "output format: human, json")
	cmd.PersistentFlags().String("store", "", "job database path")
	cmd.PersistentFlags().String("log-file", "", "write logs to file")
	cmd.PersistentFlags().String("log-format", "", "log file format: text, json")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() *GlobalFlags {
	return &globalFlags
}

// binding ties a configuration key to a flag and an environment variable
type binding struct {
	key  string
	flag string
	env  string
}

var globalBindings = []binding{
	{key: "output.format", flag: "output"},
	{key: "store.path", flag: "store"},
	{key: "logging.file", flag: "log-file"},
	{key: "logging.format", flag: "log-format"},
	{key: "logging.level", flag: "log-level"},
}

var jobBindings = []binding{
	{key: "job.id", flag: "id"},
	{key: "job.endpoint", flag: "endpoint", env: "BUCKETSYNC_ENDPOINT"},
	{key: "job.region", flag: "region", env: "BUCKETSYNC_REGION"},
	{key: "job.bucket", flag: "bucket", env: "BUCKETSYNC_BUCKET"},
	{key: "job.access_key", flag: "access-key", env: "BUCKETSYNC_ACCESS_KEY"},
	{key: "job.secret_key", flag: "secret-key", env: "BUCKETSYNC_SECRET_KEY"},
	{key: "job.source.type", flag: "source-type"},
	{key: "job.source.path", flag: "source"},
	{key: "job.direction", flag: "direction"},
	{key: "job.create_bucket", flag: "create-bucket"},
	{key: "exclude", flag: "exclude"},
}

var transferBindings = []binding{
	{key: "transfer.bandwidth_limit", flag: "bandwidth"},
	{key: "transfer.sample_period", flag: "sample-period"},
	{key: "retry.max_attempts", flag: "max-attempts"},
}

// addJobFlags adds the flags describing one sync job
func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "configuration id (default derived from endpoint, bucket, source and direction)")
	cmd.Flags().String("endpoint", "", "S3 endpoint URL")
	cmd.Flags().String("region", "", "bucket region")
	cmd.Flags().String("bucket", "", "bucket name")
	cmd.Flags().String("access-key", "", "access key (or $BUCKETSYNC_ACCESS_KEY)")
	cmd.Flags().String("secret-key", "", "secret key (or $BUCKETSYNC_SECRET_KEY)")
	cmd.Flags().String("source-type", "", "source type: folder, photos, videos")
	cmd.Flags().StringP("source", "s", "", "local source path")
	cmd.Flags().StringP("direction", "d", "", "transfer direction: upload, download")
	cmd.Flags().Bool("create-bucket", false, "create the bucket before uploading when missing")
	cmd.Flags().StringSlice("exclude", nil, "glob patterns to exclude")
}

// addTransferFlags adds the flags tuning a transfer
func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("bandwidth", "b", "", "bandwidth limit (e.g., \"10MB\", \"1GiB\")")
	cmd.Flags().Duration("sample-period", 0, "progress sampling period")
	cmd.Flags().Int("max-attempts", 0, "runs tried before a failure is final")
}

// newViper binds the flags of cmd and the environment to configuration keys
func newViper(cmd *cobra.Command, sets ...[]binding) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, set := range sets {
		for _, b := range set {
			if f := cmd.Flags().Lookup(b.flag); f != nil {
				v.BindPFlag(b.key, f)
			}
			if b.env != "" {
				v.BindEnv(b.key, b.env)
			}
		}
	}
	return v
}
