package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnsupportedImage = errors.New("unsupported image")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")
	ErrMalformedOutput  = errors.New("malformed model output")
	ErrConflict         = errors.New("conflict")
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

// MalformedOutputError reports model output that could not be parsed as a
// structured record. Raw holds the model text verbatim.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	if e == nil {
		return ErrMalformedOutput.Error()
	}
	if e.Err == nil {
		return ErrMalformedOutput.Error()
	}
	return fmt.Sprintf("%s: %v", ErrMalformedOutput.Error(), e.Err)
}

func (e *MalformedOutputError) Unwrap() []error {
	if e == nil || e.Err == nil {
		return []error{ErrMalformedOutput}
	}
	return []error{ErrMalformedOutput, e.Err}
}
