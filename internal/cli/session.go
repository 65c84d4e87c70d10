package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdejongh/bucketsync/pkg/config"
	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/jobhost"
	"github.com/sdejongh/bucketsync/pkg/logging"
	"github.com/sdejongh/bucketsync/pkg/output"
	syncengine "github.com/sdejongh/bucketsync/pkg/sync"
)

// session holds what a command needs once its flags are parsed
type session struct {
	cfg        *config.Config
	configPath string
	logger     logging.Logger
	stdout     io.Writer
}

// newSession loads the configuration for cmd and sets up logging
func newSession(cmd *cobra.Command, bindings ...[]binding) (*session, error) {
	v := newViper(cmd, append([][]binding{globalBindings}, bindings...)...)

	cfg, path, err := loadConfig(v)
	if err != nil {
		return nil, usageError(err)
	}

	logger, err := createLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, usageError(fmt.Errorf("failed to create logger: %w", err))
	}

	return &session{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		stdout:     cmd.OutOrStdout(),
	}, nil
}

// Close flushes the loggers
func (s *session) Close() error {
	return s.logger.Close()
}

// formatter returns the output formatter selected by the configuration
func (s *session) formatter() output.Formatter {
	return output.New(s.cfg.Output, s.stdout)
}

// engineOptions returns the engine settings of the configuration
func (s *session) engineOptions() syncengine.Options {
	return syncengine.Options{
		Exclude:        s.cfg.Exclude,
		BandwidthLimit: s.cfg.Transfer.BandwidthLimit,
		PartSize:       s.cfg.Transfer.PartSize,
		BufferSize:     s.cfg.Transfer.BufferSize,
		Logger:         s.logger,
	}
}

// openStore opens the job database
func (s *session) openStore() (*jobhost.Store, error) {
	path := s.cfg.StorePath(s.configPath)
	store, err := jobhost.Open(path, jobhost.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open job store %s: %w", path, err)
	}
	return store, nil
}

// newHost wires a runner persisting to store and reporting to formatter
func (s *session) newHost(store *jobhost.Store, formatter output.Formatter, constraints ...jobhost.Constraint) *jobhost.Host {
	runner := job.NewRunner(job.RunnerConfig{
		Registry:     store,
		Sink:         job.MultiSink{store, formatter},
		Factory:      job.EngineFactoryFor(s.engineOptions()),
		SamplePeriod: s.cfg.Transfer.SamplePeriod,
		Logger:       s.logger,
	})

	return jobhost.NewHost(runner, jobhost.HostConfig{
		MaxConcurrent:  s.cfg.Retry.MaxConcurrent,
		MaxAttempts:    s.cfg.Retry.MaxAttempts,
		InitialBackoff: s.cfg.Retry.InitialBackoff,
		MaxBackoff:     s.cfg.Retry.MaxBackoff,
		Constraints:    constraints,
		Sink:           formatter,
		Logger:         s.logger,
	})
}

// createLogger builds the console logger and, when configured, the file
// logger
func createLogger(cfg *config.Config, stderr io.Writer) (logging.Logger, error) {
	level := logging.WarnLevel
	switch {
	case globalFlags.Verbose:
		level = logging.DebugLevel
	case globalFlags.Quiet:
		level = logging.ErrorLevel
	}

	console := logging.NewConsoleLogger(stderr, level, os.Getenv("NO_COLOR") != "")
	logging.SetDefault(console)

	if !cfg.Logging.Enabled || cfg.Logging.File == "" {
		return console, nil
	}

	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}

	file, err := logging.NewFileLogger(logging.FileLoggerConfig{
		Path:       cfg.Logging.File,
		Format:     format,
		Level:      logging.ParseLevel(cfg.Logging.Level),
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, err
	}

	return logging.Multi(console, file), nil
}

// pollInterval is how often a client watching another process's job reads
// the store
func (s *session) pollInterval() time.Duration {
	if s.cfg.Transfer.SamplePeriod > 0 {
		return s.cfg.Transfer.SamplePeriod
	}
	return job.DefaultSamplePeriod
}
