package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Excluder decides which object keys are left out of a listing.
//
// Patterns use doublestar syntax with three conveniences:
//   - a pattern without a slash matches the base name at any depth (*.tmp)
//   - a pattern ending with a slash matches everything below that directory
//     at any depth (.git/)
//   - any other pattern matches the full key or a suffix of it (build/*)
type Excluder struct {
	patterns []string
}

// NewExcluder compiles the given patterns, skipping empty ones
func NewExcluder(patterns []string) (*Excluder, error) {
	e := &Excluder{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "/")

		var expanded string
		switch {
		case strings.HasSuffix(p, "/"):
			expanded = "**/" + strings.TrimSuffix(p, "/") + "/**"
		case !strings.Contains(p, "/"):
			expanded = "**/" + p
		case strings.HasPrefix(p, "**/"):
			expanded = p
		default:
			expanded = "{" + p + ",**/" + p + "}"
		}

		if !doublestar.ValidatePattern(expanded) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
		e.patterns = append(e.patterns, expanded)
	}
	return e, nil
}

// Match reports whether key is excluded
func (e *Excluder) Match(key string) bool {
	if e == nil {
		return false
	}
	key = path.Clean("/" + key)[1:]
	for _, p := range e.patterns {
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}

// Len returns the number of active patterns
func (e *Excluder) Len() int {
	if e == nil {
		return 0
	}
	return len(e.patterns)
}
