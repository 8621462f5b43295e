package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
	ErrToolInvocation   = errors.New("tool invocation failed")
	ErrContent          = errors.New("unprocessable content")
	ErrConfiguration    = errors.New("invalid configuration")
	ErrTimeout          = errors.New("operation timed out")
	ErrStateConflict    = errors.New("processing state conflict")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

type FailureReason string

const (
	ReasonTimeout       FailureReason = "timeout"
	ReasonContent       FailureReason = "content"
	ReasonTool          FailureReason = "tool"
	ReasonConfiguration FailureReason = "configuration"
	ReasonUnreadable    FailureReason = "unreadable"
	ReasonInternal      FailureReason = "internal"
)

// ReasonOf maps an error chain to the failure reason recorded on a document.
func ReasonOf(err error) FailureReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrConfiguration):
		return ReasonConfiguration
	case errors.Is(err, ErrContent), errors.Is(err, ErrInvalidInput):
		return ReasonContent
	case errors.Is(err, ErrToolInvocation), errors.Is(err, ErrTemporary):
		return ReasonTool
	default:
		return ReasonInternal
	}
}
