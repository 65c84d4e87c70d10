package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/bucketsync/pkg/config"
	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/jobhost"
	"github.com/sdejongh/bucketsync/pkg/models"
	"github.com/sdejongh/bucketsync/pkg/output"
)

// execute runs the command tree with args and returns stdout and the exit code
func execute(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), ExitCode(err)
}

func testParams() models.JobParams {
	return models.JobParams{
		EndpointURL: "https://s3.example.com",
		AccessKey:   "AKIA",
		SecretKey:   "secret",
		Bucket:      "backup",
		Source:      models.Source{Type: models.SourceFolder, Path: "/photos"},
		Direction:   models.DirectionUpload,
	}
}

// cancelOnProgress cancels the watch once the first progress record is shown
type cancelOnProgress struct {
	output.Formatter
	cancel context.CancelFunc
}

func (c cancelOnProgress) Progress(ctx context.Context, id job.Identity, r models.ProgressRecord) error {
	err := c.Formatter.Progress(ctx, id, r)
	c.cancel()
	return err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Nil", nil, ExitOK},
		{"Usage", usageError(errors.New("bad flag")), ExitUsage},
		{"Failed", failedError(errors.New("boom")), ExitFailed},
		{"Canceled", context.Canceled, ExitCancelled},
		{"Plain", errors.New("unknown command"), ExitUsage},
		{"Succeeded", resultError(models.Success(models.TransferProgress{})), ExitOK},
		{"ResultFailed", resultError(models.Failure("denied", models.TransferProgress{})), ExitFailed},
		{"ResultCancelled", resultError(models.Cancelled(models.TransferProgress{})), ExitCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}

	assert.True(t, Reported(resultError(models.Cancelled(models.TransferProgress{}))))
	assert.False(t, Reported(usageError(errors.New("bad flag"))))
}

func TestApplyOverrides(t *testing.T) {
	newCmd := func(t *testing.T, args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		AddGlobalFlags(cmd)
		addJobFlags(cmd)
		addTransferFlags(cmd)
		require.NoError(t, cmd.ParseFlags(args))
		return cmd
	}

	t.Run("FlagsAndEnvironment", func(t *testing.T) {
		t.Setenv("BUCKETSYNC_ACCESS_KEY", "AKIA")
		t.Setenv("BUCKETSYNC_SECRET_KEY", "s3cr3t")
		t.Setenv("BUCKETSYNC_JOB_REGION", "eu-west-1")

		cmd := newCmd(t,
			"--endpoint", "https://s3.example.com",
			"--bucket", "photos",
			"--source", "/data/photos",
			"--direction", "download",
			"--bandwidth", "10MB",
			"--exclude", "*.raw",
			"--output", "json",
		)
		cfg := config.Default()
		require.NoError(t, applyOverrides(cfg, newViper(cmd, globalBindings, jobBindings, transferBindings)))

		assert.Equal(t, "https://s3.example.com", cfg.Job.Endpoint)
		assert.Equal(t, "photos", cfg.Job.Bucket)
		assert.Equal(t, "AKIA", cfg.Job.AccessKey)
		assert.Equal(t, "s3cr3t", cfg.Job.SecretKey)
		assert.Equal(t, "eu-west-1", cfg.Job.Region)
		assert.Equal(t, "/data/photos", cfg.Job.Source.Path)
		assert.Equal(t, models.DirectionDownload, cfg.Job.Direction)
		assert.Equal(t, int64(10_000_000), cfg.Transfer.BandwidthLimit)
		assert.Equal(t, []string{"*.raw"}, cfg.Exclude)
		assert.Equal(t, "json", cfg.Output.Format)
	})

	t.Run("UnsetKeepsConfig", func(t *testing.T) {
		cmd := newCmd(t)
		cfg := config.Default()
		cfg.Job.Bucket = "from-file"
		require.NoError(t, applyOverrides(cfg, newViper(cmd, globalBindings, jobBindings, transferBindings)))

		assert.Equal(t, "from-file", cfg.Job.Bucket)
		assert.Equal(t, config.Default().Exclude, cfg.Exclude)
		assert.Equal(t, models.DirectionUpload, cfg.Job.Direction)
	})

	t.Run("InvalidBandwidth", func(t *testing.T) {
		cmd := newCmd(t, "--bandwidth", "fast")
		err := applyOverrides(config.Default(), newViper(cmd, transferBindings))

		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "transfer.bandwidth_limit", verr.Field)
	})
}

func TestValidateRemote(t *testing.T) {
	p := testParams()
	p.Source = models.Source{}
	p.Direction = ""
	assert.NoError(t, validateRemote(&p))

	p.Bucket = ""
	var verr *models.ValidationError
	require.ErrorAs(t, validateRemote(&p), &verr)
	assert.Equal(t, "Bucket", verr.Field)
}

func TestAttach(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (owner, watcher *jobhost.Store, id job.Identity) {
		dir := t.TempDir()
		var err error
		owner, err = jobhost.Open(filepath.Join(dir, "jobs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { owner.Close() })
		watcher, err = jobhost.Open(filepath.Join(dir, "jobs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { watcher.Close() })

		p := testParams()
		id = job.IdentityFor(&p)
		ok, err := owner.TryAcquire(ctx, job.Claim{Identity: id, RunID: job.NewRunID(), Params: p})
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, owner.SetState(ctx, id, models.StateTransferring))
		require.NoError(t, owner.Progress(ctx, id, models.ProgressRecord{
			ProgressCount: 1, ProgressBytes: 1000, ProgressPercentage: 0.5, DiffCount: 2, DiffBytes: 2000,
		}))
		return owner, watcher, id
	}

	t.Run("Finished", func(t *testing.T) {
		owner, watcher, id := setup(t)
		final := models.TransferProgress{TransferredFiles: 2, TransferredBytes: 2000, Percentage: 1, TotalFiles: 2, TotalBytes: 2000}
		require.NoError(t, owner.Finish(ctx, id, models.Success(final)))

		var out bytes.Buffer
		result, err := attach(ctx, watcher, id, output.NewHumanFormatter(&out, false), clockwork.NewFakeClock(), job.DefaultSamplePeriod)
		require.NoError(t, err)
		assert.Equal(t, models.StateSucceeded, result.State)
		assert.Equal(t, final, result.Progress)
		assert.Contains(t, out.String(), "Status: SUCCEEDED")
	})

	t.Run("Failed", func(t *testing.T) {
		owner, watcher, id := setup(t)
		require.NoError(t, owner.Finish(ctx, id, models.Failure("access denied", models.TransferProgress{})))

		var out bytes.Buffer
		result, err := attach(ctx, watcher, id, output.NewHumanFormatter(&out, false), clockwork.NewFakeClock(), job.DefaultSamplePeriod)
		require.NoError(t, err)
		assert.Equal(t, models.StateFailed, result.State)
		assert.Equal(t, "access denied", result.Message)
	})

	t.Run("Detach", func(t *testing.T) {
		_, watcher, id := setup(t)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var out bytes.Buffer
		f := cancelOnProgress{Formatter: output.NewHumanFormatter(&out, false), cancel: cancel}
		_, err := attach(ctx, watcher, id, f, clockwork.NewFakeClock(), job.DefaultSamplePeriod)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Contains(t, out.String(), "Transferring...")
		assert.Contains(t, out.String(), "[1/2]")
	})

	t.Run("OwnerExited", func(t *testing.T) {
		owner, watcher, id := setup(t)
		require.NoError(t, owner.Release(ctx, id))

		_, err := attach(ctx, watcher, id, output.NewHumanFormatter(io.Discard, false), clockwork.NewFakeClock(), job.DefaultSamplePeriod)
		assert.ErrorIs(t, err, ErrOwnerExited)
	})
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	configPath := filepath.Join(dir, "bucketsync.yaml")
	storePath := filepath.Join(dir, "state", "jobs.db")

	t.Run("Version", func(t *testing.T) {
		out, code := execute(t, "version", "--short")
		assert.Equal(t, ExitOK, code)
		assert.Equal(t, buildVersion()+"\n", out)
	})

	t.Run("ConfigInit", func(t *testing.T) {
		out, code := execute(t, "--config", configPath, "config", "init")
		require.Equal(t, ExitOK, code)
		assert.Contains(t, out, configPath)

		info, err := os.Stat(configPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		_, code = execute(t, "--config", configPath, "config", "init")
		assert.Equal(t, ExitUsage, code)

		_, code = execute(t, "--config", configPath, "config", "init", "--force")
		assert.Equal(t, ExitOK, code)
	})

	t.Run("ConfigShowRedactsSecret", func(t *testing.T) {
		t.Setenv("BUCKETSYNC_SECRET_KEY", "s3cr3t")
		out, code := execute(t, "--config", configPath, "config", "show", "--bucket", "photos")
		require.Equal(t, ExitOK, code)
		assert.Contains(t, out, "bucket: photos")
		assert.Contains(t, out, redacted)
		assert.NotContains(t, out, "s3cr3t")
	})

	t.Run("MissingConfig", func(t *testing.T) {
		_, code := execute(t, "--config", filepath.Join(dir, "missing.yaml"), "status")
		assert.Equal(t, ExitUsage, code)
	})

	t.Run("StatusEmpty", func(t *testing.T) {
		out, code := execute(t, "--config", configPath, "--store", storePath, "status")
		require.Equal(t, ExitOK, code)
		assert.Equal(t, "No jobs\n", out)

		_, code = execute(t, "--config", configPath, "--store", storePath, "status", "sync_unknown")
		assert.Equal(t, ExitUsage, code)
	})

	t.Run("CancelUnknown", func(t *testing.T) {
		_, code := execute(t, "--config", configPath, "--store", storePath, "cancel", "sync_unknown")
		assert.Equal(t, ExitUsage, code)
	})

	t.Run("ResumeNothing", func(t *testing.T) {
		out, code := execute(t, "--config", configPath, "--store", storePath, "resume")
		require.Equal(t, ExitOK, code)
		assert.Equal(t, "No interrupted jobs\n", out)
	})

	t.Run("SyncMissingBucket", func(t *testing.T) {
		_, code := execute(t, "--config", configPath, "--store", storePath, "sync",
			"--endpoint", "https://s3.example.com", "--access-key", "AKIA", "--secret-key", "secret",
			"--source", dir)
		assert.Equal(t, ExitUsage, code)
	})

	t.Run("UnknownFlag", func(t *testing.T) {
		_, code := execute(t, "sync", "--no-such-flag")
		assert.Equal(t, ExitUsage, code)
	})

	t.Run("InvalidMinFreeSpace", func(t *testing.T) {
		_, code := execute(t, "--config", configPath, "--store", storePath, "sync",
			"--endpoint", "https://s3.example.com", "--access-key", "AKIA", "--secret-key", "secret",
			"--bucket", "photos", "--source", dir, "--min-free-space", "lots")
		assert.Equal(t, ExitUsage, code)
	})

	t.Run("EnvFile", func(t *testing.T) {
		t.Cleanup(func() { os.Unsetenv("BUCKETSYNC_BUCKET") })
		envFile := filepath.Join(dir, EnvFileName)
		require.NoError(t, os.WriteFile(envFile, []byte("BUCKETSYNC_BUCKET=from-env-file\n"), 0600))
		t.Cleanup(func() { os.Remove(envFile) })

		out, code := execute(t, "--config", configPath, "config", "show")
		require.Equal(t, ExitOK, code)
		assert.Contains(t, out, "bucket: from-env-file")
	})
}

func TestStatusWithRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bucketsync.yaml")
	storePath := filepath.Join(dir, "jobs.db")
	require.NoError(t, config.SaveToFile(config.Default(), configPath))

	store, err := jobhost.Open(storePath)
	require.NoError(t, err)
	p := testParams()
	id := job.IdentityFor(&p)
	ok, err := store.TryAcquire(ctx, job.Claim{Identity: id, RunID: job.NewRunID(), Params: p})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.SetState(ctx, id, models.StateTransferring))
	t.Cleanup(func() { store.Close() })

	t.Run("List", func(t *testing.T) {
		out, code := execute(t, "--config", configPath, "--store", storePath, "status")
		require.Equal(t, ExitOK, code)
		assert.Contains(t, out, "IDENTITY")
		assert.Contains(t, out, id.String())
		assert.Contains(t, out, "TRANSFERRING")
	})

	t.Run("One", func(t *testing.T) {
		out, code := execute(t, "--config", configPath, "--store", storePath, "status", id.String())
		require.Equal(t, ExitOK, code)
		assert.Contains(t, out, "backup at https://s3.example.com")
	})

	t.Run("Cancel", func(t *testing.T) {
		out, code := execute(t, "--config", configPath, "--store", storePath, "cancel", id.String())
		require.Equal(t, ExitOK, code)
		assert.Contains(t, out, "Cancellation requested")

		requested, err := store.CancelRequested(ctx, id)
		require.NoError(t, err)
		assert.True(t, requested)
	})

	t.Run("ResumeSkipsHeldJobs", func(t *testing.T) {
		out, code := execute(t, "--config", configPath, "--store", storePath, "resume")
		require.Equal(t, ExitOK, code)
		assert.Equal(t, "No interrupted jobs\n", out)
	})
}
