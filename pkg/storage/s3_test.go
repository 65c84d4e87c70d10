package storage

import (
	"bytes"
	"context"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/bucketsync/pkg/models"
)

const listBody = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>backup</Name>
  <KeyCount>3</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>a.png</Key><Size>100</Size><ETag>"etag-a"</ETag><LastModified>2024-01-01T00:00:00.000Z</LastModified></Contents>
  <Contents><Key>albums/</Key><Size>0</Size><ETag>"d41d8"</ETag><LastModified>2024-01-01T00:00:00.000Z</LastModified></Contents>
  <Contents><Key>albums/b.png</Key><Size>200</Size><ETag>"etag-b"</ETag><LastModified>2024-01-02T00:00:00.000Z</LastModified></Contents>
</ListBucketResult>`

type fakeS3 struct {
	mu       sync.Mutex
	requests []string
	put      map[string]int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/backup" && r.URL.Query().Get("list-type") == "2":
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, listBody)
	case r.Method == http.MethodGet && r.URL.Path == "/denied":
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
	case r.Method == http.MethodHead && r.URL.Path == "/backup":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/backup/"):
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		if f.put == nil {
			f.put = map[string]int{}
		}
		f.put[strings.TrimPrefix(r.URL.Path, "/backup/")] = len(body)
		f.mu.Unlock()
		w.Header().Set("ETag", `"etag-put"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestS3(t *testing.T, bucket string) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewS3Store(context.Background(), S3Config{
		Endpoint:  server.URL,
		Region:    "eu-west-1",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    bucket,
	})
	require.NoError(t, err)
	return store, fake
}

func TestS3StoreList(t *testing.T) {
	store, _ := newTestS3(t, "backup")

	objects, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, models.RemoteObject{
		Name:       "a.png",
		Size:       100,
		Checksum:   "etag-a",
		ModifiedAt: objects[0].ModifiedAt,
	}, objects[0])
	assert.Equal(t, "albums/b.png", objects[1].Name)
	assert.Equal(t, 2024, objects[1].ModifiedAt.Year())
}

func TestS3StoreListDenied(t *testing.T) {
	store, _ := newTestS3(t, "denied")

	_, err := store.List(context.Background())

	var se *models.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "AccessDenied", se.Code)
	assert.Equal(t, "Access Denied", se.Message)
}

func TestS3StoreBucketExists(t *testing.T) {
	store, _ := newTestS3(t, "backup")
	ok, err := store.BucketExists(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	missing, _ := newTestS3(t, "missing")
	ok, err = missing.BucketExists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3StoreCustomCABundle(t *testing.T) {
	server := httptest.NewTLSServer(&fakeS3{})
	t.Cleanup(server.Close)

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw}
	require.NoError(t, os.WriteFile(bundle, pem.EncodeToMemory(block), 0600))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	store, err := NewS3Store(context.Background(), S3Config{
		Endpoint:  server.URL,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "backup",
	})
	require.NoError(t, err)

	ok, err := store.BucketExists(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3StorePutRemove(t *testing.T) {
	store, fake := newTestS3(t, "backup")
	ctx := context.Background()

	resp, err := store.Put(ctx, &PutObjectParams{
		Key:         "albums/c.png",
		Body:        bytes.NewReader(make([]byte, 1024)),
		Size:        1024,
		ContentType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "etag-put", resp.ETag)

	require.NoError(t, store.Remove(ctx, "albums/c.png"))
	require.NoError(t, store.CreateBucket(ctx, "fresh"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.put, "albums/c.png")
	assert.Contains(t, fake.requests, "DELETE /backup/albums/c.png")
	assert.Contains(t, fake.requests, "PUT /fresh")
}
