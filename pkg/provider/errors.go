package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the requested node does not exist.
	ErrNotFound = errors.New("node not found")

	// ErrAccessDenied indicates the session lacks permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates the session cookies were rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the provider service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrUpstreamTimeout indicates a network call exceeded its deadline.
	// Callers may retry.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrInvalidRequest indicates the caller supplied unusable arguments.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotConnected indicates no credentials are stored for the user.
	ErrNotConnected = errors.New("photo service not connected")
)

// ProviderError wraps provider-specific errors with context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "Search", "Upload").
	Op string

	// Provider is the provider type.
	Provider ProviderType

	// NodeID is the node involved, if applicable.
	NodeID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.NodeID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an upstream HTTP status to a sentinel error.
// It returns nil for statuses with no sentinel (including 2xx).
func ClassifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrInvalidCredentials
	case status == http.StatusForbidden:
		return ErrAccessDenied
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status == http.StatusGatewayTimeout:
		return ErrUpstreamTimeout
	case status >= 500:
		return ErrProviderUnavailable
	}
	return nil
}

// IsNotFound returns true if the error indicates a node was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates the session was rejected.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsProviderUnavailable returns true if the error indicates the provider service is unavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsTimeout returns true if the error indicates an upstream timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout)
}

// IsRetryable reports whether the host may reasonably retry the call.
func IsRetryable(err error) bool {
	return IsTimeout(err) || IsThrottled(err) || IsProviderUnavailable(err)
}
