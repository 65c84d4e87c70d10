package storage

import (
	"context"
	"errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// NormalizeError classifies a remote store failure into a *models.StoreError
// carrying the HTTP status, the provider error code and its message when the
// error exposes them. Cancellation and nil pass through unchanged, as do
// errors that are already normalized.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var normalized *models.StoreError
	if errors.As(err, &normalized) {
		return normalized
	}

	out := &models.StoreError{Err: err}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		out.StatusCode = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		out.Code = apiErr.ErrorCode()
		out.Message = apiErr.ErrorMessage()
	}

	return out
}

// IsNotFound reports whether err is a normalized "missing bucket or key" failure
func IsNotFound(err error) bool {
	var se *models.StoreError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case "NotFound", "NoSuchBucket", "NoSuchKey":
		return true
	}
	return se.StatusCode == http.StatusNotFound
}
