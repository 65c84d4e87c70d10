package config

import (
	"time"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// Config represents the application configuration
type Config struct {
	Job      JobConfig      `yaml:"job"`
	Transfer TransferConfig `yaml:"transfer"`
	Retry    RetryConfig    `yaml:"retry"`
	Store    StoreConfig    `yaml:"store"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
	Exclude  []string       `yaml:"exclude"`
}

// JobConfig describes the sync relationship between a source and a bucket
type JobConfig struct {
	// ID overrides the configuration id derived from the other fields
	ID string `yaml:"id,omitempty"`

	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`

	Source       SourceConfig     `yaml:"source"`
	Direction    models.Direction `yaml:"direction"`
	CreateBucket bool             `yaml:"create_bucket"`
}

// SourceConfig names the local content collection
type SourceConfig struct {
	Type models.SourceType `yaml:"type"`
	Path string            `yaml:"path"`
}

// TransferConfig holds transfer-related settings
type TransferConfig struct {
	BandwidthLimit int64         `yaml:"bandwidth_limit"` // bytes per second, 0 = unlimited
	SamplePeriod   time.Duration `yaml:"sample_period"`
	PartSize       int64         `yaml:"part_size"`
	BufferSize     int           `yaml:"buffer_size"`
}

// RetryConfig holds job host scheduling settings
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
}

// StoreConfig locates the job database
type StoreConfig struct {
	Path string `yaml:"path"` // empty = next to the config file
}

// OutputConfig holds output-related settings
type OutputConfig struct {
	Format   string `yaml:"format"`   // "human" or "json"
	Progress bool   `yaml:"progress"` // Show a progress bar
	Quiet    bool   `yaml:"quiet"`    // Suppress non-error output
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Format     string `yaml:"format"` // "json" or "text"
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	File       string `yaml:"file"`   // Log file path (empty = console only)
	MaxSize    int64  `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// minPartSize is the smallest multipart chunk S3 accepts
const minPartSize = 5 * 1024 * 1024

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Job: JobConfig{
			Source:    SourceConfig{Type: models.SourceFolder},
			Direction: models.DirectionUpload,
		},
		Transfer: TransferConfig{
			BandwidthLimit: 0,
			SamplePeriod:   time.Second,
			PartSize:       minPartSize,
			BufferSize:     65536,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 30 * time.Second,
			MaxBackoff:     10 * time.Minute,
			MaxConcurrent:  2,
		},
		Output: OutputConfig{
			Format:   "human",
			Progress: true,
			Quiet:    false,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Format:     "json",
			Level:      "info",
			File:       "",
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 3,
		},
		Exclude: []string{
			"*.tmp",
			".DS_Store",
			"Thumbs.db",
		},
	}
}

// Params returns the job parameters the configuration describes
func (c *Config) Params() models.JobParams {
	return models.JobParams{
		ConfigID:     c.Job.ID,
		EndpointURL:  c.Job.Endpoint,
		AccessKey:    c.Job.AccessKey,
		SecretKey:    c.Job.SecretKey,
		Bucket:       c.Job.Bucket,
		Region:       c.Job.Region,
		Source:       models.Source{Type: c.Job.Source.Type, Path: c.Job.Source.Path},
		Direction:    c.Job.Direction,
		CreateBucket: c.Job.CreateBucket,
	}
}

// Validate checks if the configuration is valid. Job fields are checked
// when a job starts, since credentials may come from the environment.
func (c *Config) Validate() error {
	if c.Job.Direction != "" && !c.Job.Direction.Valid() {
		return &models.ValidationError{
			Field:   "job.direction",
			Message: "must be 'upload' or 'download'",
		}
	}

	if c.Job.Source.Type != "" && !c.Job.Source.Type.Valid() {
		return &models.ValidationError{
			Field:   "job.source.type",
			Message: "must be 'folder', 'photos' or 'videos'",
		}
	}

	if c.Transfer.BandwidthLimit < 0 {
		return &models.ValidationError{
			Field:   "transfer.bandwidth_limit",
			Message: "must not be negative",
		}
	}

	if c.Transfer.SamplePeriod <= 0 {
		return &models.ValidationError{
			Field:   "transfer.sample_period",
			Message: "must be positive",
		}
	}

	if c.Transfer.PartSize < minPartSize {
		return &models.ValidationError{
			Field:   "transfer.part_size",
			Message: "must be at least 5 MiB",
		}
	}

	if c.Transfer.BufferSize < 1024 {
		return &models.ValidationError{
			Field:   "transfer.buffer_size",
			Message: "must be at least 1024 bytes",
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return &models.ValidationError{
			Field:   "retry.max_attempts",
			Message: "must be at least 1",
		}
	}

	if c.Retry.InitialBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return &models.ValidationError{
			Field:   "retry.initial_backoff",
			Message: "must be positive and not above retry.max_backoff",
		}
	}

	if c.Retry.MaxConcurrent < 1 {
		return &models.ValidationError{
			Field:   "retry.max_concurrent",
			Message: "must be at least 1",
		}
	}

	validFormats := map[string]bool{"human": true, "json": true}
	if !validFormats[c.Output.Format] {
		return &models.ValidationError{
			Field:   "output.format",
			Message: "must be 'human' or 'json'",
		}
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return &models.ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'text'",
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return &models.ValidationError{
			Field:   "logging.level",
			Message: "must be 'debug', 'info', 'warn', or 'error'",
		}
	}

	return nil
}
