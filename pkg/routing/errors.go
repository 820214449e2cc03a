package routing

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common routing errors that can be checked with errors.Is().
var (
	// ErrConfiguration is returned for malformed or incomplete provider configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderNotFound is returned when an operation names an unregistered provider.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrCapabilityMismatch is returned when a specialized binding lacks the
	// capability its category requires.
	ErrCapabilityMismatch = errors.New("capability mismatch")

	// ErrNoHealthyProvider is returned when no candidate survives filtering
	// and no usable default provider exists.
	ErrNoHealthyProvider = errors.New("no healthy provider available")

	// ErrProviderDispatch is returned when a provider call fails.
	ErrProviderDispatch = errors.New("provider dispatch failed")

	// ErrRetryExhausted is returned when every failover attempt failed.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrProviderUnhealthy is returned when an explicitly requested provider is unhealthy.
	ErrProviderUnhealthy = errors.New("provider unhealthy")

	// ErrNotInitialized is returned when the gateway is used before Initialize.
	ErrNotInitialized = errors.New("gateway not initialized")

	// ErrNoCandidates is returned when a selection strategy receives no candidates.
	ErrNoCandidates = errors.New("no candidates to select from")
)

// Error codes carried in failed responses.
const (
	CodeConfiguration      = "CONFIGURATION_ERROR"
	CodeProviderNotFound   = "PROVIDER_NOT_FOUND"
	CodeCapabilityMismatch = "CAPABILITY_MISMATCH"
	CodeNoHealthyProvider  = "NO_HEALTHY_PROVIDER"
	CodeProviderDispatch   = "PROVIDER_DISPATCH_ERROR"
	CodeRetryExhausted     = "RETRY_EXHAUSTED"
	CodeProviderUnhealthy  = "PROVIDER_UNHEALTHY"
	CodeNotInitialized     = "NOT_INITIALIZED"
	CodeInvalidRequest     = "INVALID_REQUEST"
)

// ConfigurationError is returned when a provider configuration is malformed
// or incomplete.
type ConfigurationError struct {
	// Provider is the offending provider, if any.
	Provider string

	// Reason describes what is wrong.
	Reason string

	// Err is the underlying validation error, if any.
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Provider != "" {
		msg += fmt.Sprintf(" for provider %q", e.Provider)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is implements error matching for errors.Is().
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ProviderNotFoundError is returned when an operation references a provider
// that is not registered.
type ProviderNotFoundError struct {
	// ProviderName is the requested provider that was not found.
	ProviderName string

	// AvailableProviders contains the names of registered providers.
	AvailableProviders []string
}

// Error implements the error interface.
func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider %q not found (available providers: %s)",
		e.ProviderName, strings.Join(e.AvailableProviders, ", "))
}

// Is implements error matching for errors.Is().
func (e *ProviderNotFoundError) Is(target error) bool {
	return target == ErrProviderNotFound
}

// CapabilityMismatchError is returned when a provider bound to a request
// category does not support that category's capability.
type CapabilityMismatchError struct {
	ProviderName string
	Required     Capability
}

// Error implements the error interface.
func (e *CapabilityMismatchError) Error() string {
	return fmt.Sprintf("provider %q does not support required capability %q", e.ProviderName, e.Required)
}

// Is implements error matching for errors.Is().
func (e *CapabilityMismatchError) Is(target error) bool {
	return target == ErrCapabilityMismatch
}

// NoHealthyProviderError is returned when no healthy provider can serve a
// request and no usable default exists.
type NoHealthyProviderError struct {
	// RequestType is the classified category of the request.
	RequestType RequestType

	// Required is the capability the request needed, if any.
	Required Capability

	// DefaultProvider is the configured default, if any.
	DefaultProvider string
}

// Error implements the error interface.
func (e *NoHealthyProviderError) Error() string {
	msg := fmt.Sprintf("no healthy provider available for %s request", e.RequestType)
	if e.Required != "" {
		msg += fmt.Sprintf(" requiring %q", e.Required)
	}
	if e.DefaultProvider != "" {
		msg += fmt.Sprintf(" (default provider %q unavailable)", e.DefaultProvider)
	} else {
		msg += " (no default provider configured)"
	}
	return msg
}

// Is implements error matching for errors.Is().
func (e *NoHealthyProviderError) Is(target error) bool {
	return target == ErrNoHealthyProvider
}

// ProviderDispatchError wraps a failed call to a provider.
type ProviderDispatchError struct {
	// ProviderName is the provider that failed.
	ProviderName string

	// StatusCode is the upstream HTTP status, or 0 on a transport failure.
	StatusCode int

	// Message is the upstream error message or body excerpt.
	Message string

	// Err is the transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *ProviderDispatchError) Error() string {
	msg := fmt.Sprintf("provider %q responded with an error", e.ProviderName)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is implements error matching for errors.Is().
func (e *ProviderDispatchError) Is(target error) bool {
	return target == ErrProviderDispatch
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *ProviderDispatchError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned when every attempt within the retry
// budget failed.
type RetryExhaustedError struct {
	// AttemptedProviders contains the providers tried, in order.
	AttemptedProviders []string

	// LastError is the error from the last attempted provider.
	LastError error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("all providers failed (attempted: %s, last error: %v)",
		strings.Join(e.AttemptedProviders, ", "), e.LastError)
}

// Is implements error matching for errors.Is().
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *RetryExhaustedError) Unwrap() error {
	return e.LastError
}

// ErrorCode maps an error to the stable code carried in failed responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRetryExhausted):
		return CodeRetryExhausted
	case errors.Is(err, ErrNoHealthyProvider):
		return CodeNoHealthyProvider
	case errors.Is(err, ErrProviderNotFound):
		return CodeProviderNotFound
	case errors.Is(err, ErrProviderUnhealthy):
		return CodeProviderUnhealthy
	case errors.Is(err, ErrCapabilityMismatch):
		return CodeCapabilityMismatch
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrNotInitialized):
		return CodeNotInitialized
	case errors.Is(err, ErrProviderDispatch):
		return CodeProviderDispatch
	default:
		return CodeInvalidRequest
	}
}

// StatusCode maps an error to the HTTP status of its failed response.
func StatusCode(err error) int {
	switch ErrorCode(err) {
	case CodeRetryExhausted, CodeProviderDispatch:
		return http.StatusBadGateway
	case CodeNoHealthyProvider, CodeProviderUnhealthy, CodeNotInitialized:
		return http.StatusServiceUnavailable
	case CodeProviderNotFound:
		return http.StatusNotFound
	case CodeCapabilityMismatch:
		return http.StatusUnprocessableEntity
	case CodeConfiguration:
		return http.StatusInternalServerError
	case "":
		return http.StatusOK
	default:
		return http.StatusBadRequest
	}
}
