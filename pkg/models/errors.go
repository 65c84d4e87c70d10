package models

import (
	"fmt"
	"strings"
)

// StoreError is a remote store failure normalized to status, provider code and message
type StoreError struct {
	// StatusCode is the HTTP status, 0 when unknown
	StatusCode int
	// Code is the provider error code, empty when unknown
	Code string
	// Message is the provider message, empty when unknown
	Message string

	Err error
}

func (e *StoreError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "remote store request failed"
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
	}
	var b strings.Builder
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "status %d: ", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(msg)
	return b.String()
}

func (e *StoreError) Unwrap() error { return e.Err }

// Listing sides
const (
	SideLocal  = "local"
	SideRemote = "remote"
)

// EnumerationError reports that a listing could not be retrieved
type EnumerationError struct {
	Side string
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("failed to list %s objects: %v", e.Side, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// Stream operations
const (
	OpOpen     = "open"
	OpTransfer = "transfer"
	OpCommit   = "commit"
)

// StreamError reports a failed per-object stream step
type StreamError struct {
	Key string
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
