package models

import (
	"net/url"
	"strings"
)

// SourceType defines what kind of local collection is synchronized
type SourceType string

const (
	// SourceFolder is an arbitrary folder tree
	SourceFolder SourceType = "folder"
	// SourcePhotos keeps image content only
	SourcePhotos SourceType = "photos"
	// SourceVideos keeps video content only
	SourceVideos SourceType = "videos"
)

// Valid reports whether t is a known source type
func (t SourceType) Valid() bool {
	switch t {
	case SourceFolder, SourcePhotos, SourceVideos:
		return true
	}
	return false
}

// Source describes the local content collection
type Source struct {
	Type SourceType `json:"type" yaml:"type"`
	Path string     `json:"path" yaml:"path"`
}

// JobParams are the input parameters of one sync job
type JobParams struct {
	// ConfigID identifies the sync configuration; derived from the other
	// fields when empty
	ConfigID string `json:"configId"`

	EndpointURL string `json:"endpointUrl"`
	AccessKey   string `json:"accessKey"`
	SecretKey   string `json:"-"`
	Bucket      string `json:"bucket"`

	// Region is optional
	Region string `json:"region,omitempty"`

	Source    Source    `json:"source"`
	Direction Direction `json:"direction"`

	// CreateBucket creates a missing bucket before uploading
	CreateBucket bool `json:"createBucket,omitempty"`
}

// Validate checks that every required job input is present and well formed
func (p *JobParams) Validate() error {
	if strings.TrimSpace(p.EndpointURL) == "" {
		return &ValidationError{Field: "EndpointURL", Message: "endpoint URL is required"}
	}
	u, err := url.Parse(p.EndpointURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "EndpointURL", Message: "endpoint URL must be an absolute http(s) URL"}
	}
	if strings.TrimSpace(p.AccessKey) == "" {
		return &ValidationError{Field: "AccessKey", Message: "access key is required"}
	}
	if strings.TrimSpace(p.SecretKey) == "" {
		return &ValidationError{Field: "SecretKey", Message: "secret key is required"}
	}
	if strings.TrimSpace(p.Bucket) == "" {
		return &ValidationError{Field: "Bucket", Message: "bucket name is required"}
	}
	if !p.Source.Type.Valid() {
		return &ValidationError{Field: "Source.Type", Message: "source type must be folder, photos or videos"}
	}
	if strings.TrimSpace(p.Source.Path) == "" {
		return &ValidationError{Field: "Source.Path", Message: "source path is required"}
	}
	if !p.Direction.Valid() {
		return &ValidationError{Field: "Direction", Message: "direction must be upload or download"}
	}
	return nil
}

// ValidationError represents a missing or malformed configuration value
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
