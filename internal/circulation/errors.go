package circulation

import (
	"errors"
	"fmt"
)

// Business outcomes. These are expected results of a request and are never
// retried automatically.
var (
	ErrNotFound        = errors.New("not found")
	ErrBookUnavailable = errors.New("book unavailable: no copies left")
	ErrInvalidLoan     = errors.New("invalid loan: no open loan matches")
	ErrNotAuthorized   = errors.New("not authorized to act on this loan")
)

// ErrStorage is matched by every StorageError.
var ErrStorage = errors.New("storage error")

// StorageError wraps a failure of the underlying store. The unit of work it
// interrupted was rolled back, so the caller may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// WrapStorage passes business outcomes through unchanged and wraps anything
// else as a StorageError for op.
func WrapStorage(op string, err error) error {
	if err == nil || IsBusinessError(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsBusinessError reports whether err is one of the expected circulation outcomes.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBookUnavailable) ||
		errors.Is(err, ErrInvalidLoan) ||
		errors.Is(err, ErrNotAuthorized)
}

// IsRetryable reports whether the operation may succeed if attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}
