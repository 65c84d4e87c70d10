package platform

import (
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

var userHomeDir = os.UserHomeDir

// NormalizePath resolves a local source path to a clean absolute path
func NormalizePath(p string) (string, error) {
	if err := ValidatePath(p); err != nil {
		return "", err
	}
	if strings.HasPrefix(p, "~/") || p == "~" {
		home, err := userHomeDir()
		if err != nil {
			return "", &PathError{Path: p, Message: "cannot resolve home directory"}
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", &PathError{Path: p, Message: err.Error()}
	}
	return filepath.Clean(abs), nil
}

// ValidatePath checks if a local path is usable on the current platform
func ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return &PathError{Path: p, Message: "path is empty"}
	}

	if runtime.GOOS == "windows" {
		invalidChars := []string{"<", ">", "\"", "|", "?", "*"}
		for _, char := range invalidChars {
			if strings.Contains(p, char) {
				return &PathError{Path: p, Message: "path contains invalid character: " + char}
			}
		}
	}

	return nil
}

// KeyFromPath converts a path relative to a source root into an object key
func KeyFromPath(rel string) string {
	key := filepath.ToSlash(rel)
	key = path.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}

// SplitKey splits an object key into its parent key and base name. The
// parent of a top-level key is empty.
func SplitKey(key string) (parent, name string) {
	key = KeyFromPath(key)
	parent, name = path.Split(key)
	return strings.TrimSuffix(parent, "/"), name
}

// ValidateKey rejects keys that cannot be materialized under a source root
func ValidateKey(key string) error {
	if key == "" || strings.HasSuffix(key, "/") {
		return &PathError{Path: key, Message: "key does not name a file"}
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return &PathError{Path: key, Message: "key escapes the source root"}
		}
	}
	return nil
}

// PathError represents a path validation error
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return "invalid path '" + e.Path + "': " + e.Message
}
