package provider

import (
	"errors"
	"fmt"
)

// AuthError means the portal rejected the configured credentials. Not
// retryable without operator intervention.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("invalid credentials (status %d)", e.StatusCode)
}

// ConnectError covers transport failures, server errors, and malformed
// responses. Retryable on the next scheduled cycle.
type ConnectError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ConnectError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	default:
		return e.Op
	}
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IntegrityError means the provider or the local store returned data that
// violates an invariant of the cumulative series. The affected service
// point's cycle aborts and nothing is written for it.
type IntegrityError struct {
	Op     string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// NotFoundError means configuration references a municipality this build
// does not know about. Surfaced at setup time, not during ingestion.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("municipality %q not found", e.Name)
}

// IsAuthError reports whether err is (or wraps) a credential rejection.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsIntegrityError reports whether err is (or wraps) an integrity anomaly.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
