package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrExternalTool  = errors.New("external tool error")
	ErrCollaborator  = errors.New("collaborator error")
	ErrDispatch      = errors.New("dispatch error")
	ErrRegistry      = errors.New("registry error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// WrapStage tags err with marker unless the stage deadline expired, in which
// case the error also carries ErrTimeout so callers can tell hung tools apart
// from tools that failed outright.
func WrapStage(ctx context.Context, marker error, stage, operation, message string, err error) error {
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Wrap(marker, stage, operation, message, fmt.Errorf("%w: %w", ErrTimeout, err))
	}
	return Wrap(marker, stage, operation, message, err)
}

// ErrorKind names the category of a failure for logs, metrics, and API output.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindExternalTool  ErrorKind = "external_tool"
	KindCollaborator  ErrorKind = "collaborator"
	KindDispatch      ErrorKind = "dispatch"
	KindRegistry      ErrorKind = "registry"
	KindConfiguration ErrorKind = "configuration"
	KindNotFound      ErrorKind = "not_found"
	KindTimeout       ErrorKind = "timeout"
	KindCanceled      ErrorKind = "canceled"
	KindUnknown       ErrorKind = "unknown"
)

// KindOf classifies err by the first marker it carries. Stage markers win over
// ErrTimeout so a stalled ffmpeg still reports as an external tool failure.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrCollaborator):
		return KindCollaborator
	case errors.Is(err, ErrDispatch):
		return KindDispatch
	case errors.Is(err, ErrRegistry):
		return KindRegistry
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Hint returns a short operator-facing next step for the error category.
func Hint(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "check the submitted source path and container format"
	case KindExternalTool:
		return "check ffmpeg/ffprobe installation and the source file"
	case KindCollaborator:
		return "check transcription and llm service availability"
	case KindDispatch:
		return "register a handler for the job kind"
	case KindRegistry:
		return "submit with a new job id"
	case KindConfiguration:
		return "review the configuration file"
	case KindTimeout:
		return "raise the stage timeout or inspect the stalled tool"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
