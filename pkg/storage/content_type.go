package storage

import (
	"mime"
	"path"
	"strings"
)

const defaultContentType = "application/octet-stream"

// media extensions missing from the builtin mime table on minimal systems
var mediaTypes = map[string]string{
	".heic": "image/heic",
	".heif": "image/heif",
	".dng":  "image/x-adobe-dng",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".3gp":  "video/3gpp",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
}

// DetectContentType guesses the MIME type of an object from its key
func DetectContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" {
		return defaultContentType
	}
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}
