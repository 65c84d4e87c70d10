package compare

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/bucketsync/pkg/models"
)

type stubLocal struct {
	objects []models.LocalObject
	err     error
}

func (s stubLocal) List(ctx context.Context) ([]models.LocalObject, error) {
	return s.objects, s.err
}

type scopedLocal struct {
	stubLocal
	skip map[string]bool
}

func (s scopedLocal) Accepts(key string) bool { return !s.skip[key] }

type stubRemote struct {
	objects []models.RemoteObject
	err     error
}

func (s stubRemote) List(ctx context.Context) ([]models.RemoteObject, error) {
	return s.objects, s.err
}

func transferKeys(d *models.Diff) []string {
	out := make([]string, 0, len(d.ToTransfer))
	for _, o := range d.ToTransfer {
		out = append(out, o.ObjectKey())
	}
	return out
}

func TestCompute(t *testing.T) {
	t.Run("UploadSkipsPresentNames", func(t *testing.T) {
		locals := []models.LocalObject{{Name: "a.png", Size: 100}, {Name: "b.png", Size: 200}}
		remotes := []models.RemoteObject{{Name: "a.png", Size: 999}}

		d := Compute(locals, remotes, models.DirectionUpload)

		assert.Equal(t, []string{"b.png"}, transferKeys(d))
		assert.Equal(t, int64(200), d.TotalBytes)
		assert.Equal(t, 1, d.TotalObjects)
		assert.IsType(t, models.LocalObject{}, d.ToTransfer[0])
	})

	t.Run("DownloadUsesRelativePathKey", func(t *testing.T) {
		locals := []models.LocalObject{
			{Name: "a.txt", RelativePath: "docs", Size: 1},
			{Name: "b.txt", Size: 2},
		}
		remotes := []models.RemoteObject{
			{Name: "docs/a.txt", Size: 1},
			{Name: "b.txt", Size: 2},
			{Name: "docs/b.txt", Size: 30},
			{Name: "c.txt", Size: 40},
		}

		d := Compute(locals, remotes, models.DirectionDownload)

		assert.Equal(t, []string{"docs/b.txt", "c.txt"}, transferKeys(d))
		assert.Equal(t, int64(70), d.TotalBytes)
		assert.IsType(t, models.RemoteObject{}, d.ToTransfer[0])
	})

	t.Run("SameNameDifferentContentIsSkipped", func(t *testing.T) {
		locals := []models.LocalObject{{Name: "x.jpg", Size: 10}}
		remotes := []models.RemoteObject{{Name: "x.jpg", Size: 99, Checksum: "other"}}

		d := Compute(locals, remotes, models.DirectionUpload)
		assert.True(t, d.Empty())
		assert.Zero(t, d.TotalBytes)
	})

	t.Run("PreservesListingOrder", func(t *testing.T) {
		locals := []models.LocalObject{{Name: "z"}, {Name: "a"}, {Name: "m"}}
		d := Compute(locals, nil, models.DirectionUpload)
		assert.Equal(t, []string{"z", "a", "m"}, transferKeys(d))
	})

	t.Run("EmptyListings", func(t *testing.T) {
		d := Compute(nil, nil, models.DirectionDownload)
		assert.NotNil(t, d.ToTransfer)
		assert.Equal(t, 0, d.TotalObjects)
	})

	t.Run("Idempotent", func(t *testing.T) {
		locals := []models.LocalObject{{Name: "a", Size: 1}, {Name: "b", Size: 2}, {Name: "c", Size: 3}}
		remotes := []models.RemoteObject{{Name: "b"}}

		first := Compute(locals, remotes, models.DirectionUpload)
		second := Compute(locals, remotes, models.DirectionUpload)
		assert.Equal(t, first.ToTransfer, second.ToTransfer)
		assert.Equal(t, first.TotalBytes, second.TotalBytes)
	})
}

func TestComputeMembershipProperty(t *testing.T) {
	var locals []models.LocalObject
	var remotes []models.RemoteObject
	for i := 0; i < 3000; i++ {
		locals = append(locals, models.LocalObject{Name: fmt.Sprintf("img_%04d.jpg", i), Size: int64(i)})
		if i%3 == 0 {
			remotes = append(remotes, models.RemoteObject{Name: fmt.Sprintf("img_%04d.jpg", i)})
		}
	}

	d := Compute(locals, remotes, models.DirectionUpload)

	remoteSet := map[string]bool{}
	for _, r := range remotes {
		remoteSet[r.Name] = true
	}
	var sum int64
	for _, o := range d.ToTransfer {
		assert.False(t, remoteSet[o.ObjectKey()], "%s is present remotely", o.ObjectKey())
		sum += o.ObjectSize()
	}
	assert.Equal(t, 2000, d.TotalObjects)
	assert.Equal(t, sum, d.TotalBytes)
}

func TestCalculatorDiff(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		c := NewCalculator(
			stubLocal{objects: []models.LocalObject{{Name: "a.png", Size: 100}, {Name: "b.png", Size: 200}}},
			stubRemote{objects: []models.RemoteObject{{Name: "a.png"}}},
		)
		d, err := c.Diff(ctx, models.DirectionUpload)
		require.NoError(t, err)
		assert.Equal(t, []string{"b.png"}, transferKeys(d))
		assert.Len(t, d.Locals, 2)
		assert.Len(t, d.Remotes, 1)
	})

	t.Run("DownloadSkipsKeysOutsideScope", func(t *testing.T) {
		local := scopedLocal{
			stubLocal: stubLocal{objects: []models.LocalObject{{Name: "a.png"}}},
			skip:      map[string]bool{"notes.tmp": true},
		}
		remotes := stubRemote{objects: []models.RemoteObject{{Name: "notes.tmp"}, {Name: "b.png", Size: 5}}}

		d, err := NewCalculator(local, remotes).Diff(ctx, models.DirectionDownload)
		require.NoError(t, err)
		assert.Equal(t, []string{"b.png"}, transferKeys(d))
		assert.Equal(t, int64(5), d.TotalBytes)
	})

	t.Run("RemoteErrorIsNormalized", func(t *testing.T) {
		c := NewCalculator(stubLocal{}, stubRemote{err: errors.New("connection refused")})
		_, err := c.Diff(ctx, models.DirectionUpload)

		var enum *models.EnumerationError
		require.ErrorAs(t, err, &enum)
		assert.Equal(t, models.SideRemote, enum.Side)

		var se *models.StoreError
		require.ErrorAs(t, err, &se)
		assert.Contains(t, se.Error(), "connection refused")
		assert.Contains(t, err.Error(), "failed to list remote objects")
	})

	t.Run("LocalError", func(t *testing.T) {
		c := NewCalculator(stubLocal{err: errors.New("permission denied")}, stubRemote{})
		_, err := c.Diff(ctx, models.DirectionDownload)

		var enum *models.EnumerationError
		require.ErrorAs(t, err, &enum)
		assert.Equal(t, models.SideLocal, enum.Side)
	})
}
