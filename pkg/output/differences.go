package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// ReportInfo describes the sync relationship a diff report covers
type ReportInfo struct {
	Source   string
	Endpoint string
	Bucket   string
}

// WriteDiffReport writes the objects a diff would transfer to a file.
// Format can be "human" or "json".
func WriteDiffReport(diff *models.Diff, info ReportInfo, path string, format string) error {
	if diff.Empty() {
		// No differences - don't create empty file
		return nil
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create diff report: %w", err)
	}
	defer file.Close()

	switch format {
	case "json":
		return writeDiffJSON(diff, info, file)
	default: // "human"
		return writeDiffHuman(diff, info, file)
	}
}

// writeDiffHuman writes the diff in human-readable format
func writeDiffHuman(diff *models.Diff, info ReportInfo, w io.Writer) error {
	fmt.Fprintf(w, "Differences Report\n")
	fmt.Fprintf(w, "==================\n\n")
	fmt.Fprintf(w, "Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "Source: %s\n", info.Source)
	fmt.Fprintf(w, "Bucket: %s (%s)\n", info.Bucket, info.Endpoint)
	fmt.Fprintf(w, "Direction: %s\n\n", diff.Direction)

	label := fmt.Sprintf("Only in %s (%d objects, %s)", sourceSide(diff.Direction), diff.TotalObjects, humanize.Bytes(uint64(diff.TotalBytes)))
	fmt.Fprintf(w, "%s\n", label)
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", len(label)))

	for _, obj := range diff.ToTransfer {
		fmt.Fprintf(w, "  %s\n", obj.ObjectKey())
		fmt.Fprintf(w, "    Size: %s\n", humanize.Bytes(uint64(obj.ObjectSize())))
		if remote, ok := obj.(models.RemoteObject); ok && remote.Checksum != "" {
			fmt.Fprintf(w, "    ETag: %s\n", remote.Checksum)
		}
	}

	return nil
}

func sourceSide(d models.Direction) string {
	if d == models.DirectionDownload {
		return "bucket"
	}
	return "source"
}

// writeDiffJSON writes the diff in JSON format
func writeDiffJSON(diff *models.Diff, info ReportInfo, w io.Writer) error {
	objects := make([]JSONObjectData, 0, len(diff.ToTransfer))
	for _, obj := range diff.ToTransfer {
		objects = append(objects, JSONObjectData{Key: obj.ObjectKey(), Size: obj.ObjectSize()})
	}

	output := struct {
		Generated    string           `json:"generated"`
		Source       string           `json:"source"`
		Endpoint     string           `json:"endpoint"`
		Bucket       string           `json:"bucket"`
		Direction    models.Direction `json:"direction"`
		TotalObjects int              `json:"total_objects"`
		TotalBytes   int64            `json:"total_bytes"`
		Objects      []JSONObjectData `json:"objects"`
	}{
		Generated:    time.Now().Format(time.RFC3339),
		Source:       info.Source,
		Endpoint:     info.Endpoint,
		Bucket:       info.Bucket,
		Direction:    diff.Direction,
		TotalObjects: diff.TotalObjects,
		TotalBytes:   diff.TotalBytes,
		Objects:      objects,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
