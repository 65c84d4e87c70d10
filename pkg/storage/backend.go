package storage

import (
	"context"
	"io"
	"time"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// Enumerator lists and streams the local content collection.
// Implementations must be safe to call repeatedly.
type Enumerator interface {
	// List returns every object of the collection in walk order
	List(ctx context.Context) ([]models.LocalObject, error)

	// Open opens the object behind handle for reading
	Open(ctx context.Context, handle string) (io.ReadCloser, error)

	// Create starts writing a new object named name under parentHandle.
	// Nothing is visible at the target until Commit succeeds.
	Create(ctx context.Context, parentHandle, name, contentType string) (ObjectWriter, error)
}

// ObjectWriter is an in-progress local write
type ObjectWriter interface {
	io.Writer

	// Commit makes the object visible and stamps its modification time
	// when modifiedAt is not zero
	Commit(modifiedAt time.Time) error

	// Abort discards everything written so far
	Abort() error
}

// GetObjectResponse is an open remote object
type GetObjectResponse struct {
	Body         io.ReadCloser
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// PutObjectParams describes one upload
type PutObjectParams struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
}

// PutObjectResponse describes a finished upload
type PutObjectResponse struct {
	Key  string
	Size int64
	ETag string
}

// ObjectStore is the remote bucket a job synchronizes with. Errors returned
// by implementations can be classified with NormalizeError.
type ObjectStore interface {
	// Bucket returns the bucket name
	Bucket() string

	// List returns every object of the bucket in listing order
	List(ctx context.Context) ([]models.RemoteObject, error)

	// Get opens an object for reading
	Get(ctx context.Context, key string) (*GetObjectResponse, error)

	// Put uploads Size bytes read from Body
	Put(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error)

	// Remove deletes an object
	Remove(ctx context.Context, key string) error

	// BucketExists reports whether the bucket exists and is reachable
	BucketExists(ctx context.Context) (bool, error)

	// CreateBucket creates the named bucket
	CreateBucket(ctx context.Context, name string) error
}
