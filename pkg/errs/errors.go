// ABOUTME: Error taxonomy shared by every annostore component
// ABOUTME: Sentinel kinds let callers tell bad requests from missing things

package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap them with the constructors below so callers can
// discriminate with errors.Is while still seeing a useful message.
var (
	// ErrValidation indicates a malformed query, unknown operator or
	// unknown index kind. Rejected before any storage call.
	ErrValidation = errors.New("annostore: validation failed")

	// ErrNotFound indicates an unknown container, annotation, index or an
	// expired search id.
	ErrNotFound = errors.New("annostore: not found")

	// ErrNotAuthorized indicates an insufficient role or a missing
	// required principal.
	ErrNotAuthorized = errors.New("annostore: not authorized")

	// ErrConflict indicates a stale concurrency token or a duplicate
	// container name.
	ErrConflict = errors.New("annostore: conflict")

	// ErrInternal indicates an unexpected fault during execution.
	ErrInternal = errors.New("annostore: internal failure")
)

// Validation wraps a message as a validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps a message as a not-found error.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// NotAuthorized wraps a message as an authorization error.
func NotAuthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotAuthorized, fmt.Sprintf(format, args...))
}

// Conflict wraps a message as a conflict error.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Internal wraps an underlying fault, preserving it for errors.Is/As.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// IsClientError reports whether err should surface as a caller mistake
// rather than a server fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrConflict)
}
