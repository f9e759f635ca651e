package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ModelLoadError is returned when a detector checkpoint cannot be turned into
// a ready model handle. It is fatal at startup.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ModelLoadError) Unwrap() error { return e.Err }

// Cause returns the underlying cause for github.com/pkg/errors.
func (e *ModelLoadError) Cause() error { return e.Err }

// InvalidImageError is returned when uploaded bytes cannot be decoded into a
// pixel grid. It is a client error.
type InvalidImageError struct {
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image: %s: %v", e.Reason, e.Err)
	}
	return "invalid image: " + e.Reason
}

// Unwrap returns the underlying cause.
func (e *InvalidImageError) Unwrap() error { return e.Err }

// Cause returns the underlying cause for github.com/pkg/errors.
func (e *InvalidImageError) Cause() error { return e.Err }

// InferenceError is returned when running the network fails, including a
// shape mismatch between the prepared input and the model.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InferenceError) Unwrap() error { return e.Err }

// Cause returns the underlying cause for github.com/pkg/errors.
func (e *InferenceError) Cause() error { return e.Err }

// EncodingError is returned when an annotated image cannot be compressed or
// written to the output directory.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EncodingError) Unwrap() error { return e.Err }

// Cause returns the underlying cause for github.com/pkg/errors.
func (e *EncodingError) Cause() error { return e.Err }

// NewModelLoadError wraps err with the checkpoint path.
func NewModelLoadError(path string, err error) error {
	return &ModelLoadError{Path: path, Err: err}
}

// NewModelLoadErrorf builds a ModelLoadError from a message.
func NewModelLoadErrorf(path, format string, args ...interface{}) error {
	return &ModelLoadError{Path: path, Err: errors.Errorf(format, args...)}
}

// NewInvalidImageError wraps err with a reason. err may be nil.
func NewInvalidImageError(reason string, err error) error {
	return &InvalidImageError{Reason: reason, Err: err}
}

// NewInferenceError wraps err with the failing operation.
func NewInferenceError(op string, err error) error {
	return &InferenceError{Op: op, Err: err}
}

// NewInferenceErrorf builds an InferenceError from a message.
func NewInferenceErrorf(op, format string, args ...interface{}) error {
	return &InferenceError{Op: op, Err: errors.Errorf(format, args...)}
}

// NewEncodingError wraps err with the failing operation.
func NewEncodingError(op string, err error) error {
	return &EncodingError{Op: op, Err: err}
}

// IsModelLoad reports whether err is or wraps a ModelLoadError.
func IsModelLoad(err error) bool {
	var target *ModelLoadError
	return errors.As(err, &target)
}

// IsInvalidImage reports whether err is or wraps an InvalidImageError.
func IsInvalidImage(err error) bool {
	var target *InvalidImageError
	return errors.As(err, &target)
}

// IsInference reports whether err is or wraps an InferenceError.
func IsInference(err error) bool {
	var target *InferenceError
	return errors.As(err, &target)
}

// IsEncoding reports whether err is or wraps an EncodingError.
func IsEncoding(err error) bool {
	var target *EncodingError
	return errors.As(err, &target)
}
