package compare

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sdejongh/bucketsync/pkg/models"
	"github.com/sdejongh/bucketsync/pkg/storage"
)

// LocalLister lists the local side of a sync relationship
type LocalLister interface {
	List(ctx context.Context) ([]models.LocalObject, error)
}

// Scope is implemented by local listers whose collection covers only part of
// the key space. Remote keys outside the scope are never downloaded, so a
// filtered local file is never overwritten.
type Scope interface {
	Accepts(key string) bool
}

// RemoteLister lists the bucket side of a sync relationship
type RemoteLister interface {
	List(ctx context.Context) ([]models.RemoteObject, error)
}

// Compute returns the objects of the source side whose key has no exact
// match on the other side. Matching is by key only; size, checksum and
// modification time are ignored. Source listing order is preserved.
func Compute(locals []models.LocalObject, remotes []models.RemoteObject, direction models.Direction) *models.Diff {
	diff := &models.Diff{
		Direction:  direction,
		Locals:     locals,
		Remotes:    remotes,
		ToTransfer: []models.Object{},
	}

	switch direction {
	case models.DirectionUpload:
		present := keys(remotes)
		for _, l := range locals {
			if present.Contains(l.Key()) {
				continue
			}
			diff.ToTransfer = append(diff.ToTransfer, l)
			diff.TotalBytes += l.Size
		}
	case models.DirectionDownload:
		present := keys(locals)
		for _, r := range remotes {
			if present.Contains(r.Key()) {
				continue
			}
			diff.ToTransfer = append(diff.ToTransfer, r)
			diff.TotalBytes += r.Size
		}
	}

	diff.TotalObjects = len(diff.ToTransfer)
	return diff
}

func keys[T models.Object](objects []T) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(objects))
	for _, o := range objects {
		set.Add(o.ObjectKey())
	}
	return set
}

func inScope(remotes []models.RemoteObject, scope Scope) []models.RemoteObject {
	kept := make([]models.RemoteObject, 0, len(remotes))
	for _, r := range remotes {
		if scope.Accepts(r.Key()) {
			kept = append(kept, r)
		}
	}
	return kept
}

// Calculator lists both sides and computes their diff
type Calculator struct {
	local  LocalLister
	remote RemoteLister
}

// NewCalculator creates a diff calculator over the given listers
func NewCalculator(local LocalLister, remote RemoteLister) *Calculator {
	return &Calculator{local: local, remote: remote}
}

// Diff lists both sides and computes what must be transferred in direction.
// Listing failures are returned as *models.EnumerationError; remote failures
// carry a normalized *models.StoreError.
func (c *Calculator) Diff(ctx context.Context, direction models.Direction) (*models.Diff, error) {
	remotes, err := c.remote.List(ctx)
	if err != nil {
		return nil, &models.EnumerationError{Side: models.SideRemote, Err: storage.NormalizeError(err)}
	}

	locals, err := c.local.List(ctx)
	if err != nil {
		return nil, &models.EnumerationError{Side: models.SideLocal, Err: err}
	}

	if scope, ok := c.local.(Scope); ok && direction == models.DirectionDownload {
		remotes = inScope(remotes, scope)
	}

	return Compute(locals, remotes, direction), nil
}
