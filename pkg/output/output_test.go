package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/bucketsync/pkg/compare"
	"github.com/sdejongh/bucketsync/pkg/config"
	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/models"
)

const testJob = job.Identity("sync_test")

func testDiff() *models.Diff {
	return compare.Compute(
		[]models.LocalObject{
			{Name: "a.png", Size: 100, Handle: "a.png"},
			{Name: "b.png", Size: 2000, Handle: "b.png"},
		},
		[]models.RemoteObject{{Name: "a.png", Size: 100}},
		models.DirectionUpload,
	)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default().Output

	assert.Equal(t, "human", New(cfg, &buf).Name(), "a buffer is not a terminal")

	cfg.Format = "json"
	assert.Equal(t, "json", New(cfg, &buf).Name())
}

func TestHumanFormatter(t *testing.T) {
	ctx := context.Background()
	bps := int64(2048)

	t.Run("Run", func(t *testing.T) {
		var buf bytes.Buffer
		f := NewHumanFormatter(&buf, false)

		require.NoError(t, f.SetState(ctx, testJob, models.StateCalculating))
		require.NoError(t, f.Progress(ctx, testJob, models.ProgressRecord{
			ProgressCount:       1,
			ProgressBytes:       1000,
			ProgressBytesPerSec: &bps,
			ProgressPercentage:  1.0 / 3.0,
			DiffCount:           2,
			DiffBytes:           3000,
		}))
		require.NoError(t, f.Finish(ctx, testJob, models.Failure("failed to open b.bin: denied", models.TransferProgress{
			TransferredFiles: 1,
			TransferredBytes: 1000,
			TotalFiles:       2,
			TotalBytes:       3000,
		})))

		out := buf.String()
		assert.Contains(t, out, "Calculating differences")
		assert.Contains(t, out, "[1/2] 1.0 kB of 3.0 kB (33.3%) 2.0 kB/s")
		assert.Contains(t, out, "Objects:   1 of 2")
		assert.Contains(t, out, "Status: FAILED")
		assert.Contains(t, out, "Error: failed to open b.bin: denied")
	})

	t.Run("Quiet", func(t *testing.T) {
		var buf bytes.Buffer
		f := NewHumanFormatter(&buf, true)

		require.NoError(t, f.SetState(ctx, testJob, models.StateCalculating))
		require.NoError(t, f.Progress(ctx, testJob, models.ProgressRecord{ProgressCount: 1}))
		require.NoError(t, f.Finish(ctx, testJob, models.Success(models.TransferProgress{})))
		assert.Empty(t, buf.String())

		require.NoError(t, f.Finish(ctx, testJob, models.Failure("boom", models.TransferProgress{})))
		assert.Contains(t, buf.String(), "Error: boom")
	})

	t.Run("Cancelled", func(t *testing.T) {
		var buf bytes.Buffer
		f := NewHumanFormatter(&buf, false)
		require.NoError(t, f.Finish(ctx, testJob, models.Cancelled(models.TransferProgress{})))
		assert.Contains(t, buf.String(), "Status: CANCELLED")
		assert.NotContains(t, buf.String(), "Error:")
	})

	t.Run("Diff", func(t *testing.T) {
		var buf bytes.Buffer
		f := NewHumanFormatter(&buf, false)
		require.NoError(t, f.Diff(testDiff()))
		assert.Contains(t, buf.String(), "To upload: 1 objects, 2.0 kB")
		assert.Contains(t, buf.String(), "  b.png (2.0 kB)")
	})
}

func TestJSONFormatter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	f := NewJSONFormatterWithClock(&buf, clock)

	require.NoError(t, f.SetState(ctx, testJob, models.StateTransferring))
	require.NoError(t, f.Progress(ctx, testJob, models.ProgressRecord{ProgressCount: 2, ProgressBytes: 3000, ProgressPercentage: 1, DiffCount: 2, DiffBytes: 3000}))
	require.NoError(t, f.Finish(ctx, testJob, models.Success(models.TransferProgress{TransferredFiles: 2, TransferredBytes: 3000, Percentage: 1})))
	require.NoError(t, f.Diff(testDiff()))
	require.NoError(t, f.Error(errors.New("boom")))

	var events []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var e map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.Len(t, events, 5)

	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e["type"].(string))
	}
	assert.Equal(t, []string{"state", "progress", "result", "diff", "error"}, types)
	assert.Equal(t, "2024-05-01T12:00:00Z", events[0]["timestamp"])
	assert.Equal(t, "sync_test", events[0]["job"])

	progress := events[1]["data"].(map[string]any)
	assert.Equal(t, float64(3000), progress["progressBytes"])
	result := events[2]["data"].(map[string]any)
	assert.Equal(t, "SUCCEEDED", result["state"])
	diff := events[3]["data"].(map[string]any)
	assert.Equal(t, float64(1), diff["total_objects"])
}

func TestProgressFormatter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	f := NewProgressFormatter(&buf)

	require.NoError(t, f.SetState(ctx, testJob, models.StateTransferring))
	require.NoError(t, f.Progress(ctx, testJob, models.ProgressRecord{ProgressCount: 1, ProgressBytes: 1000, DiffCount: 2, DiffBytes: 3000}))
	require.NoError(t, f.Progress(ctx, testJob, models.ProgressRecord{ProgressCount: 2, ProgressBytes: 3000, DiffCount: 2, DiffBytes: 3000}))
	require.NoError(t, f.Finish(ctx, testJob, models.Success(models.TransferProgress{TransferredFiles: 2, TotalFiles: 2})))

	out := buf.String()
	assert.Contains(t, out, "[2/2]")
	assert.Contains(t, out, "Status: SUCCEEDED")
	assert.NotContains(t, out, "Transferring...")
	assert.Equal(t, "progress", f.Name())
}

func TestWriteDiffReport(t *testing.T) {
	dir := t.TempDir()
	info := ReportInfo{Source: "/photos", Endpoint: "https://s3.example.com", Bucket: "backup"}

	t.Run("Human", func(t *testing.T) {
		path := filepath.Join(dir, "diff.txt")
		require.NoError(t, WriteDiffReport(testDiff(), info, path, "human"))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Only in source (1 objects, 2.0 kB)")
		assert.Contains(t, string(data), "  b.png\n")
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "diff.json")
		require.NoError(t, WriteDiffReport(testDiff(), info, path, "json"))
		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var report struct {
			Bucket  string           `json:"bucket"`
			Objects []JSONObjectData `json:"objects"`
		}
		require.NoError(t, json.Unmarshal(data, &report))
		assert.Equal(t, "backup", report.Bucket)
		assert.Equal(t, []JSONObjectData{{Key: "b.png", Size: 2000}}, report.Objects)
	})

	t.Run("EmptyDiffWritesNothing", func(t *testing.T) {
		path := filepath.Join(dir, "empty.txt")
		empty := compare.Compute(nil, nil, models.DirectionUpload)
		require.NoError(t, WriteDiffReport(empty, info, path, "human"))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestProgressLine(t *testing.T) {
	line := progressLine(models.ProgressRecord{ProgressCount: 0, DiffCount: 0})
	assert.True(t, strings.HasPrefix(line, "[0/0] 0 B of 0 B (0.0%)"))
}
