package authz

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// these through errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("version conflict")
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotShared is returned when unsharing a user that holds no share.
	ErrNotShared = errors.New("resource is not shared with user")
)

var kinds = []error{
	ErrNotShared,
	ErrNotFound,
	ErrAccessDenied,
	ErrValidation,
	ErrConflict,
	ErrStoreUnavailable,
}

// Error carries the failing operation, its kind, and an optional cause.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// ConflictError reports an optimistic concurrency mismatch on a resource.
type ConflictError struct {
	ResourceID string
	Expected   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %s: expected version %d is stale", e.ResourceID, e.Expected)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Kind returns the sentinel kind of err, or nil when err carries none.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetryable reports whether the caller may retry the same operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable)
}

func newError(op string, kind error, err error, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func validationf(op, format string, args ...interface{}) error {
	return newError(op, ErrValidation, nil, format, args...)
}

func notFoundf(op, format string, args ...interface{}) error {
	return newError(op, ErrNotFound, nil, format, args...)
}

func deniedf(op, format string, args ...interface{}) error {
	return newError(op, ErrAccessDenied, nil, format, args...)
}

// storeError normalizes an error returned by a store. Kinds the store already
// attached are preserved; anything else is treated as unavailability.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return &Error{Op: op, Kind: Kind(err), Err: err}
	}
	return &Error{Op: op, Kind: ErrStoreUnavailable, Err: err}
}
