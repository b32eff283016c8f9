package store

import (
	"errors"
	"fmt"
)

// Store errors. IOError values wrap ErrCorruptRecord when a metadata file
// exists but cannot be decoded.
var (
	ErrNotFound      = errors.New("submission not found")
	ErrCorruptRecord = errors.New("metadata record is corrupt")
	ErrIDExhausted   = errors.New("no free submission id")
)

// ValidationError reports a create request that was rejected before anything
// was written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IOError wraps a filesystem failure. Create does not roll back, so a failed
// write can leave a partially populated submission directory behind.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsIO reports whether err is (or wraps) an *IOError.
func IsIO(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}
