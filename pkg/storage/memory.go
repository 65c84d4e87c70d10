package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// Memory store operations that can be made to fail
const (
	OpList   = "list"
	OpGet    = "get"
	OpPut    = "put"
	OpRemove = "remove"
	OpHead   = "head"
	OpCreate = "create"
)

type memoryObject struct {
	data        []byte
	contentType string
	etag        string
	modified    time.Time
}

// MemoryStore is an in-process ObjectStore. Keys are listed in lexical
// order like an S3 listing.
type MemoryStore struct {
	mu       sync.Mutex
	bucket   string
	exists   bool
	objects  map[string]*memoryObject
	failures map[string]error
	puts     []string
	now      func() time.Time
}

// NewMemoryStore creates an existing, empty bucket
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:   bucket,
		exists:   true,
		objects:  make(map[string]*memoryObject),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// SetBucketExists toggles whether the bucket exists
func (m *MemoryStore) SetBucketExists(exists bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = exists
}

// SetObject stores an object directly
func (m *MemoryStore) SetObject(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = newMemoryObject(data, DetectContentType(key), m.now())
}

// Object returns the content of an object
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return obj.data, true
}

// Puts returns the keys of every successful Put in call order
func (m *MemoryStore) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}

// FailOn makes op fail with err for key. An empty key applies to every key.
func (m *MemoryStore) FailOn(op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+"\x00"+key] = err
}

func (m *MemoryStore) failure(op, key string) error {
	if err, ok := m.failures[op+"\x00"+key]; ok {
		return err
	}
	if err, ok := m.failures[op+"\x00"]; ok {
		return err
	}
	return nil
}

func newMemoryObject(data []byte, contentType string, modified time.Time) *memoryObject {
	sum := md5.Sum(data)
	return &memoryObject{
		data:        data,
		contentType: contentType,
		etag:        hex.EncodeToString(sum[:]),
		modified:    modified,
	}
}

func missing(code string) error {
	return &models.StoreError{StatusCode: http.StatusNotFound, Code: code, Message: "not found"}
}

// Bucket implements ObjectStore
func (m *MemoryStore) Bucket() string { return m.bucket }

// List implements ObjectStore
func (m *MemoryStore) List(ctx context.Context) ([]models.RemoteObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpList, ""); err != nil {
		return nil, err
	}
	if !m.exists {
		return nil, missing("NoSuchBucket")
	}

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	objects := make([]models.RemoteObject, 0, len(keys))
	for _, k := range keys {
		obj := m.objects[k]
		objects = append(objects, models.RemoteObject{
			Name:       k,
			Size:       int64(len(obj.data)),
			Checksum:   obj.etag,
			ModifiedAt: obj.modified,
		})
	}
	return objects, nil
}

// Get implements ObjectStore
func (m *MemoryStore) Get(ctx context.Context, key string) (*GetObjectResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpGet, key); err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, missing("NoSuchKey")
	}
	return &GetObjectResponse{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

// Put implements ObjectStore. The body must hold exactly Size bytes.
func (m *MemoryStore) Put(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	m.mu.Lock()
	err := m.failure(OpPut, params.Key)
	exists := m.exists
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, missing("NoSuchBucket")
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != params.Size {
		return nil, &models.StoreError{
			StatusCode: http.StatusBadRequest,
			Code:       "IncompleteBody",
			Message:    fmt.Sprintf("expected %d bytes, got %d", params.Size, len(data)),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	obj := newMemoryObject(data, params.ContentType, m.now())
	m.objects[params.Key] = obj
	m.puts = append(m.puts, params.Key)
	return &PutObjectResponse{Key: params.Key, Size: params.Size, ETag: obj.etag}, nil
}

// Remove implements ObjectStore
func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpRemove, key); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

// BucketExists implements ObjectStore
func (m *MemoryStore) BucketExists(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpHead, ""); err != nil {
		return false, err
	}
	return m.exists, nil
}

// CreateBucket implements ObjectStore
func (m *MemoryStore) CreateBucket(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpCreate, ""); err != nil {
		return err
	}
	if name != m.bucket {
		return &models.StoreError{StatusCode: http.StatusBadRequest, Code: "InvalidBucketName", Message: "unexpected bucket " + name}
	}
	m.exists = true
	return nil
}
