package inference

import (
	"errors"
	"fmt"
)

// ErrAborted is returned when the session ends between attempts.
var ErrAborted = errors.New("submission aborted")

// TransientError marks a retryable failure such as a timeout or 5xx reply.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error formats the failure with its HTTP status when known.
func (e *TransientError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PermanentError marks a failure that retrying cannot fix, such as a missing
// artifact or a rejected upload.
type PermanentError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error formats the failure with its HTTP status when known.
func (e *PermanentError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *PermanentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
