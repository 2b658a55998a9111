package homebox

import (
	"errors"
	"fmt"
)

// AuthError indicates bad credentials or an expired token that could not be
// refreshed. It is terminal for the request that produced it.
type AuthError struct {
	Status int
	Body   string
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication failed: %s (HTTP %d: %s)", e.Reason, e.Status, e.Body)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// RemoteAPIError is a non-2xx response from the Homebox API.
type RemoteAPIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("%s %s returned HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// ConnectionError is a network-level failure (timeout, refused, DNS). It is
// never busy-retried; the next coordinator cycle retries naturally.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NotFoundError indicates a referenced item or location id is absent.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ValidationError is a locally detected bad service parameter, raised before
// any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsUnauthorized reports whether err is a 401 from the remote API.
func IsUnauthorized(err error) bool {
	var apiErr *RemoteAPIError
	return errors.As(err, &apiErr) && apiErr.Status == 401
}
