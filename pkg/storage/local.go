package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/sdejongh/bucketsync/internal/platform"
	"github.com/sdejongh/bucketsync/pkg/models"
)

// In-flight downloads are written next to their target under this prefix
const (
	partialPrefix = ".bucketsync-"
	partialSuffix = ".partial"
)

// Local is a filesystem-backed content collection
type Local struct {
	fs         afero.Fs
	rootPath   string
	sourceType models.SourceType
	exclude    *Excluder
}

// NewLocal creates a collection rooted at rootPath on the OS filesystem
func NewLocal(rootPath string, sourceType models.SourceType, exclude *Excluder) (*Local, error) {
	absPath, err := platform.NormalizePath(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access path: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absPath)
	}

	l := NewLocalFs(afero.NewBasePathFs(afero.NewOsFs(), absPath), sourceType, exclude)
	l.rootPath = absPath
	return l, nil
}

// NewLocalFs creates a collection over fs, rooted at its "/"
func NewLocalFs(fs afero.Fs, sourceType models.SourceType, exclude *Excluder) *Local {
	if sourceType == "" {
		sourceType = models.SourceFolder
	}
	return &Local{
		fs:         fs,
		rootPath:   "/",
		sourceType: sourceType,
		exclude:    exclude,
	}
}

// Root returns the absolute root of the collection
func (l *Local) Root() string { return l.rootPath }

// List returns every matching regular file in lexical walk order
func (l *Local) List(ctx context.Context) ([]models.LocalObject, error) {
	var objects []models.LocalObject

	err := afero.Walk(l.fs, string(filepath.Separator), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		key := platform.KeyFromPath(p)
		if !l.Accepts(key) {
			return nil
		}
		parent, name := platform.SplitKey(key)
		contentType := DetectContentType(name)

		objects = append(objects, models.LocalObject{
			Name:         name,
			RelativePath: parent,
			Size:         info.Size(),
			ContentType:  contentType,
			Handle:       key,
			ModifiedAt:   info.ModTime(),
		})
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return objects, nil
}

// Accepts reports whether key belongs to the collection: it is not an
// in-flight download, not excluded and has the source's content type
func (l *Local) Accepts(key string) bool {
	_, name := platform.SplitKey(key)
	if isPartial(name) || l.exclude.Match(key) {
		return false
	}
	return l.acceptsType(DetectContentType(name))
}

func (l *Local) acceptsType(contentType string) bool {
	switch l.sourceType {
	case models.SourcePhotos:
		return strings.HasPrefix(contentType, "image/")
	case models.SourceVideos:
		return strings.HasPrefix(contentType, "video/")
	}
	return true
}

// Open opens a listed object for reading
func (l *Local) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	file, err := l.fs.Open(fsPath(handle))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Create starts an atomic write of name under the parentHandle directory
func (l *Local) Create(ctx context.Context, parentHandle, name, contentType string) (ObjectWriter, error) {
	key := path.Join(parentHandle, name)
	if err := platform.ValidateKey(key); err != nil {
		return nil, err
	}

	dir := fsPath(parentHandle)
	if err := l.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	target := fsPath(key)
	temp := filepath.Join(dir, partialPrefix+name+partialSuffix)
	file, err := l.fs.OpenFile(temp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &localWriter{fs: l.fs, file: file, temp: temp, target: target}, nil
}

func fsPath(key string) string {
	return filepath.FromSlash(path.Join("/", key))
}

func isPartial(name string) bool {
	return strings.HasPrefix(name, partialPrefix) && strings.HasSuffix(name, partialSuffix)
}

type localWriter struct {
	fs     afero.Fs
	file   afero.File
	temp   string
	target string
	done   bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *localWriter) Commit(modifiedAt time.Time) error {
	if w.done {
		return fmt.Errorf("write of %s already finished", w.target)
	}
	w.done = true

	if err := w.file.Close(); err != nil {
		w.fs.Remove(w.temp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := w.fs.Rename(w.temp, w.target); err != nil {
		w.fs.Remove(w.temp)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	if !modifiedAt.IsZero() {
		if err := w.fs.Chtimes(w.target, modifiedAt, modifiedAt); err != nil {
			return fmt.Errorf("failed to set modification time: %w", err)
		}
	}
	return nil
}

func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	if err := w.fs.Remove(w.temp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial file: %w", err)
	}
	return nil
}
