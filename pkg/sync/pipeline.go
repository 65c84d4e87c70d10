package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/sdejongh/bucketsync/internal/platform"
	"github.com/sdejongh/bucketsync/pkg/logging"
	"github.com/sdejongh/bucketsync/pkg/models"
	"github.com/sdejongh/bucketsync/pkg/progress"
	"github.com/sdejongh/bucketsync/pkg/ratelimit"
	"github.com/sdejongh/bucketsync/pkg/storage"
)

// errShortStream is returned when an object yields fewer bytes than listed
var errShortStream = errors.New("stream ended before the listed size")

// PipelineConfig holds configuration for the pipeline
type PipelineConfig struct {
	// Limiter caps transfer bandwidth, nil for unlimited
	Limiter *ratelimit.Limiter

	// BufferSize is the copy buffer used for downloads
	BufferSize int

	Clock  clockwork.Clock
	Logger logging.Logger
}

// DefaultPipelineConfig returns sensible defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BufferSize: 64 * 1024,
		Clock:      clockwork.NewRealClock(),
		Logger:     logging.NewNullLogger(),
	}
}

// Pipeline moves the objects of a diff one at a time while folding their
// byte events into aggregate progress
type Pipeline struct {
	local  storage.Enumerator
	remote storage.ObjectStore
	config PipelineConfig
}

// NewPipeline creates a transfer pipeline between a local collection and a bucket
func NewPipeline(local storage.Enumerator, remote storage.ObjectStore, config PipelineConfig) *Pipeline {
	defaults := DefaultPipelineConfig()
	if config.BufferSize < 1024 {
		config.BufferSize = defaults.BufferSize
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	return &Pipeline{local: local, remote: remote, config: config}
}

// Stream is one running transfer. Progress must be drained; Err and Tasks
// are valid once it is closed.
type Stream struct {
	progress chan models.TransferProgress
	err      error
	tasks    []*FileTask
}

// Progress returns the aggregate progress sequence
func (s *Stream) Progress() <-chan models.TransferProgress { return s.progress }

// Err returns the error that ended the transfer, nil on success
func (s *Stream) Err() error { return s.err }

// Tasks returns the per-object outcome of every object reached
func (s *Stream) Tasks() []*FileTask { return s.tasks }

// Run starts transferring diff.ToTransfer in order. Each object is opened,
// counted in TransferredFiles, then streamed through its own tracker. The
// first failure ends the sequence; an empty diff yields a single snapshot.
func (p *Pipeline) Run(ctx context.Context, diff *models.Diff) *Stream {
	s := &Stream{progress: make(chan models.TransferProgress)}
	go func() {
		defer close(s.progress)
		s.err = p.run(ctx, diff, s)
	}()
	return s
}

func (p *Pipeline) run(ctx context.Context, diff *models.Diff, s *Stream) error {
	agg := models.TransferProgress{
		TotalFiles: diff.TotalObjects,
		TotalBytes: diff.TotalBytes,
	}

	if diff.Empty() {
		return emit(ctx, s.progress, agg)
	}

	for i, obj := range diff.ToTransfer {
		if err := ctx.Err(); err != nil {
			return err
		}

		task := NewFileTask(obj, diff.Direction, i)
		s.tasks = append(s.tasks, task)
		start := p.config.Clock.Now()

		opened, err := p.open(ctx, diff.Direction, obj)
		if err != nil {
			task.MarkError(err, 0, p.config.Clock.Since(start))
			return err
		}
		task.MarkProcessing()
		agg.TransferredFiles++

		p.config.Logger.Debug(ctx, "Transferring object", logging.Fields{
			"key":       task.Key,
			"size":      task.Size,
			"direction": string(diff.Direction),
			"index":     i,
		})

		next, err := p.transferObject(ctx, opened, agg, s.progress)
		if err != nil {
			task.MarkError(err, next.TransferredBytes-agg.TransferredBytes, p.config.Clock.Since(start))
			return err
		}
		task.MarkCompleted(next.TransferredBytes-agg.TransferredBytes, p.config.Clock.Since(start))
		agg = next

		p.config.Logger.Debug(ctx, "Object transferred", logging.Fields{
			"key":      task.Key,
			"bytes":    task.BytesTransferred,
			"duration": task.ProcessingDuration.String(),
		})
	}

	return nil
}

// transferObject streams one opened object and returns the aggregate after it
func (p *Pipeline) transferObject(ctx context.Context, o *openedObject, agg models.TransferProgress, out chan<- models.TransferProgress) (models.TransferProgress, error) {
	tracker := progress.NewTracker(o.size, p.config.Clock)
	base := agg.TransferredBytes

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := p.transfer(gctx, o, tracker)
		tracker.Close(err)
		return err
	})
	g.Go(func() error {
		for snap := range tracker.Observe(gctx) {
			bps := snap.BytesPerSecond
			agg.TransferredBytes = base + snap.TotalRead
			agg.BytesPerSecond = &bps
			agg.Percentage = percentage(agg)
			if err := emit(gctx, out, agg); err != nil {
				return err
			}
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		return agg, err
	}
	return agg, ctx.Err()
}

func percentage(p models.TransferProgress) float64 {
	if p.TotalBytes > 0 {
		return float64(p.TransferredBytes) / float64(p.TotalBytes)
	}
	if p.TotalFiles > 0 {
		return float64(p.TransferredFiles) / float64(p.TotalFiles)
	}
	return 0
}

func emit(ctx context.Context, out chan<- models.TransferProgress, p models.TransferProgress) error {
	select {
	case out <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openedObject is a diffed object whose source stream is open
type openedObject struct {
	key         string
	size        int64
	contentType string
	modifiedAt  time.Time
	reader      io.ReadCloser

	// writer is the local target of a download
	writer storage.ObjectWriter
}

func (p *Pipeline) open(ctx context.Context, direction models.Direction, obj models.Object) (*openedObject, error) {
	switch o := obj.(type) {
	case models.LocalObject:
		rc, err := p.local.Open(ctx, o.Handle)
		if err != nil {
			return nil, &models.StreamError{Key: o.Key(), Op: models.OpOpen, Err: err}
		}
		return &openedObject{
			key:         o.Key(),
			size:        o.Size,
			contentType: o.ContentType,
			modifiedAt:  o.ModifiedAt,
			reader:      rc,
		}, nil

	case models.RemoteObject:
		resp, err := p.remote.Get(ctx, o.Name)
		if err != nil {
			return nil, &models.StreamError{Key: o.Name, Op: models.OpOpen, Err: storage.NormalizeError(err)}
		}
		contentType := resp.ContentType
		if contentType == "" {
			contentType = storage.DetectContentType(o.Name)
		}
		parent, name := platform.SplitKey(o.Name)
		w, err := p.local.Create(ctx, parent, name, contentType)
		if err != nil {
			resp.Body.Close()
			return nil, &models.StreamError{Key: o.Name, Op: models.OpOpen, Err: err}
		}
		modifiedAt := o.ModifiedAt
		if modifiedAt.IsZero() {
			modifiedAt = resp.LastModified
		}
		return &openedObject{
			key:         o.Name,
			size:        o.Size,
			contentType: contentType,
			modifiedAt:  modifiedAt,
			reader:      resp.Body,
			writer:      w,
		}, nil
	}

	return nil, &models.StreamError{Key: obj.ObjectKey(), Op: models.OpOpen, Err: fmt.Errorf("unsupported object type %T for %s", obj, direction)}
}

func (p *Pipeline) transfer(ctx context.Context, o *openedObject, tracker *progress.Tracker) error {
	defer o.reader.Close()

	limited := ratelimit.NewReader(ctx, io.LimitReader(o.reader, o.size), p.config.Limiter)
	counting := progress.NewReader(limited, tracker)

	if o.writer == nil {
		_, err := p.remote.Put(ctx, &storage.PutObjectParams{
			Key:         o.key,
			Body:        counting,
			Size:        o.size,
			ContentType: o.contentType,
		})
		counting.Flush()
		if err != nil {
			return &models.StreamError{Key: o.key, Op: models.OpTransfer, Err: storage.NormalizeError(err)}
		}
		if counting.Count() < o.size {
			return &models.StreamError{Key: o.key, Op: models.OpTransfer, Err: errShortStream}
		}
		return nil
	}

	buf := make([]byte, p.config.BufferSize)
	n, err := io.CopyBuffer(o.writer, counting, buf)
	counting.Flush()
	if err == nil && n < o.size {
		err = errShortStream
	}
	if err != nil {
		o.writer.Abort()
		return &models.StreamError{Key: o.key, Op: models.OpTransfer, Err: err}
	}
	if err := o.writer.Commit(o.modifiedAt); err != nil {
		return &models.StreamError{Key: o.key, Op: models.OpCommit, Err: err}
	}
	return nil
}
