package fetch

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: timeouts, rate limiting,
// upstream 5xx. The retry policy backs off and tries again up to its bound.
type TransientError struct {
	Err       error
	Exhausted bool // attempt bound was hit; treat as a per-identifier failure
}

func (e *TransientError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("transient (retries exhausted): %v", e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: 404/410, a
// malformed response body. The identifier is recorded failed-terminal and the
// run moves on.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && !te.Exhausted
}

// IsPermanent reports whether err is terminal for its identifier.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
