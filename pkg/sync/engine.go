package sync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"

	"github.com/sdejongh/bucketsync/pkg/compare"
	"github.com/sdejongh/bucketsync/pkg/logging"
	"github.com/sdejongh/bucketsync/pkg/models"
	"github.com/sdejongh/bucketsync/pkg/ratelimit"
	"github.com/sdejongh/bucketsync/pkg/storage"
)

// Options tune how an engine is built for a job
type Options struct {
	// Exclude holds patterns of local keys left out of listings
	Exclude []string

	// BandwidthLimit is bytes per second, 0 for unlimited
	BandwidthLimit int64

	// PartSize is the multipart upload chunk size
	PartSize int64

	// BufferSize is the download copy buffer
	BufferSize int

	Clock  clockwork.Clock
	Logger logging.Logger
}

// Engine ties the diff and the transfer of one job together
type Engine struct {
	local        storage.Enumerator
	remote       storage.ObjectStore
	calculator   *compare.Calculator
	pipeline     *Pipeline
	logger       logging.Logger
	direction    models.Direction
	createBucket bool
}

// NewEngine creates an engine over an existing collection and store
func NewEngine(local storage.Enumerator, remote storage.ObjectStore, direction models.Direction, createBucket bool, config PipelineConfig) *Engine {
	pipeline := NewPipeline(local, remote, config)
	return &Engine{
		local:        local,
		remote:       remote,
		calculator:   compare.NewCalculator(local, remote),
		pipeline:     pipeline,
		logger:       pipeline.config.Logger,
		direction:    direction,
		createBucket: createBucket,
	}
}

// NewEngineForJob opens the local collection and the S3 store a job names
func NewEngineForJob(ctx context.Context, params *models.JobParams, opts Options) (*Engine, error) {
	exclude, err := storage.NewExcluder(opts.Exclude)
	if err != nil {
		return nil, &models.ValidationError{Field: "Exclude", Message: err.Error()}
	}

	local, err := storage.NewLocal(params.Source.Path, params.Source.Type, exclude)
	if err != nil {
		return nil, &models.ValidationError{Field: "Source.Path", Message: err.Error()}
	}

	cfg := storage.S3ConfigFromParams(params)
	cfg.PartSize = opts.PartSize
	remote, err := storage.NewS3Store(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return NewEngine(local, remote, params.Direction, params.CreateBucket, PipelineConfig{
		Limiter:    ratelimit.NewLimiter(opts.BandwidthLimit),
		BufferSize: opts.BufferSize,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
	}), nil
}

// Diff prepares the bucket and computes what must be transferred. A missing
// bucket is created for uploads when allowed; otherwise it is an
// enumeration failure.
func (e *Engine) Diff(ctx context.Context) (*models.Diff, error) {
	exists, err := e.remote.BucketExists(ctx)
	if err != nil {
		return nil, &models.EnumerationError{Side: models.SideRemote, Err: storage.NormalizeError(err)}
	}

	if !exists {
		if e.direction != models.DirectionUpload || !e.createBucket {
			return nil, &models.EnumerationError{Side: models.SideRemote, Err: &models.StoreError{
				StatusCode: http.StatusNotFound,
				Code:       "NoSuchBucket",
				Message:    fmt.Sprintf("bucket %s does not exist", e.remote.Bucket()),
			}}
		}
		e.logger.Info(ctx, "Creating bucket", logging.Fields{"bucket": e.remote.Bucket()})
		if err := e.remote.CreateBucket(ctx, e.remote.Bucket()); err != nil {
			return nil, &models.EnumerationError{Side: models.SideRemote, Err: storage.NormalizeError(err)}
		}
	}

	diff, err := e.calculator.Diff(ctx, e.direction)
	if err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "Diff computed", logging.Fields{
		"direction": string(e.direction),
		"local":     len(diff.Locals),
		"remote":    len(diff.Remotes),
		"objects":   diff.TotalObjects,
		"bytes":     humanize.Bytes(uint64(diff.TotalBytes)),
	})
	return diff, nil
}

// Transfer starts moving the objects of diff
func (e *Engine) Transfer(ctx context.Context, diff *models.Diff) *Stream {
	return e.pipeline.Run(ctx, diff)
}
