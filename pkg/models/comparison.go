package models

// Direction defines which side of the sync relationship is the transfer source
type Direction string

const (
	// DirectionUpload transfers local objects missing from the bucket
	DirectionUpload Direction = "upload"
	// DirectionDownload transfers bucket objects missing locally
	DirectionDownload Direction = "download"
)

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionUpload || d == DirectionDownload
}

// Diff is the snapshot of objects one side has and the other lacks
type Diff struct {
	// Direction the diff was computed for
	Direction Direction

	// TotalObjects is len(ToTransfer)
	TotalObjects int

	// TotalBytes is the sum of sizes in ToTransfer
	TotalBytes int64

	// Remotes is the bucket listing the diff was computed from
	Remotes []RemoteObject

	// Locals is the local listing the diff was computed from
	Locals []LocalObject

	// ToTransfer holds LocalObject values for uploads and RemoteObject
	// values for downloads, in source listing order
	ToTransfer []Object
}

// Empty reports whether there is nothing to transfer
func (d *Diff) Empty() bool {
	return d == nil || len(d.ToTransfer) == 0
}
