package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sdejongh/bucketsync/pkg/config"
	"github.com/sdejongh/bucketsync/pkg/models"
)

// EnvFileName is the file next to the configuration that may hold
// BUCKETSYNC_* variables such as credentials
const EnvFileName = "bucketsync.env"

// loadConfig loads the configuration file and applies flag and environment
// overrides on top of it
func loadConfig(v *viper.Viper) (*config.Config, string, error) {
	cfg, path, err := config.Load(globalFlags.ConfigFile)
	if err != nil {
		return nil, "", err
	}

	// Variables from the env file never replace ones already set
	envFile := filepath.Join(filepath.Dir(path), EnvFileName)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := applyOverrides(cfg, v); err != nil {
		return nil, "", err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, path, nil
}

// applyOverrides overrides config values with command-line flags and
// environment variables
func applyOverrides(cfg *config.Config, v *viper.Viper) error {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	setString("job.id", &cfg.Job.ID)
	setString("job.endpoint", &cfg.Job.Endpoint)
	setString("job.region", &cfg.Job.Region)
	setString("job.bucket", &cfg.Job.Bucket)
	setString("job.access_key", &cfg.Job.AccessKey)
	setString("job.secret_key", &cfg.Job.SecretKey)
	setString("job.source.path", &cfg.Job.Source.Path)
	if v.IsSet("job.source.type") {
		cfg.Job.Source.Type = models.SourceType(v.GetString("job.source.type"))
	}
	if v.IsSet("job.direction") {
		cfg.Job.Direction = models.Direction(v.GetString("job.direction"))
	}
	if v.IsSet("job.create_bucket") {
		cfg.Job.CreateBucket = v.GetBool("job.create_bucket")
	}
	if v.IsSet("exclude") {
		cfg.Exclude = v.GetStringSlice("exclude")
	}

	// Bandwidth accepts human sizes such as "10MB" or "1GiB"
	if v.IsSet("transfer.bandwidth_limit") {
		limit, err := humanize.ParseBytes(v.GetString("transfer.bandwidth_limit"))
		if err != nil {
			return &models.ValidationError{
				Field:   "transfer.bandwidth_limit",
				Message: fmt.Sprintf("invalid bandwidth %q", v.GetString("transfer.bandwidth_limit")),
			}
		}
		cfg.Transfer.BandwidthLimit = int64(limit)
	}
	if v.IsSet("transfer.sample_period") {
		cfg.Transfer.SamplePeriod = v.GetDuration("transfer.sample_period")
	}
	if v.IsSet("retry.max_attempts") {
		cfg.Retry.MaxAttempts = v.GetInt("retry.max_attempts")
	}

	setString("output.format", &cfg.Output.Format)
	setString("store.path", &cfg.Store.Path)
	setString("logging.file", &cfg.Logging.File)
	setString("logging.format", &cfg.Logging.Format)
	setString("logging.level", &cfg.Logging.Level)

	if globalFlags.Quiet {
		cfg.Output.Progress = false
		cfg.Output.Quiet = true
	}

	return nil
}

// validateRemote checks the parameters needed to reach the bucket, ignoring
// the local side of the job
func validateRemote(params *models.JobParams) error {
	err := params.Validate()
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		switch verr.Field {
		case "Source.Type", "Source.Path", "Direction":
			return nil
		}
	}
	return err
}
