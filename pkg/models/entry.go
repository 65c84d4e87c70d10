package models

import (
	"path"
	"time"
)

// Object is anything the diff can place in a transfer set
type Object interface {
	// ObjectKey is the key both listings are matched on
	ObjectKey() string
	// ObjectSize is the size in bytes
	ObjectSize() int64
}

// LocalObject represents one file or media item seen by the local enumerator
type LocalObject struct {
	// Name is the base name of the item
	Name string

	// RelativePath is the parent directory relative to the source root,
	// slash separated, empty for items at the root
	RelativePath string

	// Size in bytes
	Size int64

	// ContentType is the MIME type detected for the item
	ContentType string

	// Handle is the enumerator's reference used to open the item
	Handle string

	// ModifiedAt is the last modification time
	ModifiedAt time.Time
}

// Key returns the slash separated key of the item relative to the source root
func (o LocalObject) Key() string {
	if o.RelativePath == "" {
		return o.Name
	}
	return path.Join(o.RelativePath, o.Name)
}

// ObjectKey implements Object
func (o LocalObject) ObjectKey() string { return o.Key() }

// ObjectSize implements Object
func (o LocalObject) ObjectSize() int64 { return o.Size }

// RemoteObject represents one object already present in the bucket listing
type RemoteObject struct {
	// Name is the full object key
	Name string

	// Size in bytes
	Size int64

	// Checksum is the ETag reported by the store, without quotes
	Checksum string

	// ModifiedAt is the last modification time reported by the store
	ModifiedAt time.Time
}

// Key returns the object key
func (o RemoteObject) Key() string { return o.Name }

// ObjectKey implements Object
func (o RemoteObject) ObjectKey() string { return o.Name }

// ObjectSize implements Object
func (o RemoteObject) ObjectSize() int64 { return o.Size }
