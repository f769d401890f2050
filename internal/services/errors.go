package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrPrecondition  = errors.New("precondition failed")
	ErrEngine        = errors.New("engine operation failed")
	ErrLicense       = errors.New("license unavailable")
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes step context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, step, operation, message string, err error) error {
	detail := buildDetail(step, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return &wrappedError{marker: marker, step: step, operation: operation, message: message, cause: err,
			text: fmt.Sprintf("%s: %s: %s", marker, detail, err)}
	}
	return &wrappedError{marker: marker, step: step, operation: operation, message: message,
		text: fmt.Sprintf("%s: %s", marker, detail)}
}

type wrappedError struct {
	marker    error
	step      string
	operation string
	message   string
	cause     error
	text      string
}

func (e *wrappedError) Error() string { return e.text }

func (e *wrappedError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.marker}
	}
	return []error{e.marker, e.cause}
}

// ErrorDetails is the display-oriented breakdown of a wrapped error.
type ErrorDetails struct {
	Kind      string
	Step      string
	Operation string
	Message   string
	Cause     string
}

// Details extracts the outermost Wrap context from err. Errors that were not
// produced by Wrap report their text as the message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var wrapped *wrappedError
	if !errors.As(err, &wrapped) {
		return ErrorDetails{Kind: Kind(err), Message: err.Error()}
	}
	details := ErrorDetails{
		Kind:      Kind(err),
		Step:      wrapped.step,
		Operation: wrapped.operation,
		Message:   wrapped.message,
	}
	if wrapped.cause != nil {
		details.Cause = wrapped.cause.Error()
	}
	return details
}

// Kind returns a short classification label for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrLicense):
		return "license"
	case errors.Is(err, ErrEngine):
		return "engine"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "failure"
	}
}

// PreconditionError reports a step invoked before the project holds the
// artifacts it consumes.
type PreconditionError struct {
	Step     string
	Missing  string
	RunFirst string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: step %s requires %s; run step %s first", ErrPrecondition, e.Step, e.Missing, e.RunFirst)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

func buildDetail(step, operation, message string) string {
	parts := make([]string, 0, 3)
	if step = strings.TrimSpace(step); step != "" {
		parts = append(parts, step)
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
