// Package fulfillment turns a validated job into one outbound product-creation
// call. Workers report an outcome and never write the job document.
package fulfillment

import (
	"context"
	"errors"

	"ghost-systems/internal/models"
	"ghost-systems/internal/retry"
)

var (
	// ErrNotConfigured means the backend credentials are missing.
	ErrNotConfigured = errors.New("backend not configured")
	// ErrMissingField means the job lacks a field this backend requires.
	ErrMissingField = errors.New("missing required field")
	// ErrRemote means the backend answered but rejected the request or returned an unusable body.
	ErrRemote = errors.New("remote rejected request")
)

// Result describes the product created remotely.
type Result struct {
	RemoteID string
	Name     string
}

// Fulfiller creates a remote product listing for a job.
type Fulfiller interface {
	Name() string
	Fulfill(ctx context.Context, job models.Job) (Result, error)
}

// Reason labels an error for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return "configuration"
	case errors.Is(err, ErrMissingField):
		return "validation"
	case errors.Is(err, retry.ErrExhausted):
		return "transient_exhausted"
	case errors.Is(err, ErrRemote):
		return "remote_rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
