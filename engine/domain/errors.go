package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store, importer and report engine.
var (
	// ErrNotFound is a normal lookup miss, not a failure.
	ErrNotFound = errors.New("not found")
	// ErrMalformedRecord marks an input record that cannot be imported.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrBackendUnavailable means the backing store cannot be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrInvalidReportSpec is returned before any traversal starts.
	ErrInvalidReportSpec = errors.New("invalid report spec")
)

// RecordError describes why a record was skipped.
type RecordError struct {
	Label  Label
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s: %s", ErrMalformedRecord, e.Label, e.Reason)
	}
	return fmt.Sprintf("%s: %s.%s: %s", ErrMalformedRecord, e.Label, e.Field, e.Reason)
}

func (e *RecordError) Unwrap() error { return ErrMalformedRecord }

// NewRecordError creates a RecordError.
func NewRecordError(label Label, field, reason string) *RecordError {
	return &RecordError{Label: label, Field: field, Reason: reason}
}

// SpecError points at the part of a report spec that failed validation.
type SpecError struct {
	Path   string
	Reason string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidReportSpec, e.Path, e.Reason)
}

func (e *SpecError) Unwrap() error { return ErrInvalidReportSpec }

// NewSpecError creates a SpecError.
func NewSpecError(path, format string, args ...any) *SpecError {
	return &SpecError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a transport error so that errors.Is(err,
// ErrBackendUnavailable) holds while the cause stays inspectable.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}
