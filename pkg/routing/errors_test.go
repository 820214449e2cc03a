package routing

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_IsAndCodes(t *testing.T) {
	dispatch := &ProviderDispatchError{ProviderName: "a", StatusCode: 500, Message: "boom"}

	tests := []struct {
		name     string
		err      error
		sentinel error
		code     string
		status   int
	}{
		{"configuration", &ConfigurationError{Provider: "a", Reason: "missing base_url"}, ErrConfiguration, CodeConfiguration, http.StatusInternalServerError},
		{"not found", &ProviderNotFoundError{ProviderName: "x", AvailableProviders: []string{"a"}}, ErrProviderNotFound, CodeProviderNotFound, http.StatusNotFound},
		{"capability", &CapabilityMismatchError{ProviderName: "a", Required: CapabilityVision}, ErrCapabilityMismatch, CodeCapabilityMismatch, http.StatusUnprocessableEntity},
		{"no healthy", &NoHealthyProviderError{RequestType: RequestVision, Required: CapabilityVision}, ErrNoHealthyProvider, CodeNoHealthyProvider, http.StatusServiceUnavailable},
		{"dispatch", dispatch, ErrProviderDispatch, CodeProviderDispatch, http.StatusBadGateway},
		{"retry exhausted", &RetryExhaustedError{AttemptedProviders: []string{"a", "b"}, LastError: dispatch}, ErrRetryExhausted, CodeRetryExhausted, http.StatusBadGateway},
		{"wrapped not initialized", fmt.Errorf("route: %w", ErrNotInitialized), ErrNotInitialized, CodeNotInitialized, http.StatusServiceUnavailable},
		{"unhealthy", fmt.Errorf("%w: a", ErrProviderUnhealthy), ErrProviderUnhealthy, CodeProviderUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.code, ErrorCode(tt.err))
			assert.Equal(t, tt.status, StatusCode(tt.err))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestRetryExhaustedError_UnwrapsLastError(t *testing.T) {
	last := &ProviderDispatchError{ProviderName: "b", Err: errors.New("connection refused")}
	err := &RetryExhaustedError{AttemptedProviders: []string{"a", "b"}, LastError: last}

	var dispatch *ProviderDispatchError
	assert.True(t, errors.As(err, &dispatch))
	assert.Equal(t, "b", dispatch.ProviderName)
	assert.Contains(t, err.Error(), "a, b")
}

func TestNoHealthyProviderError_Message(t *testing.T) {
	err := &NoHealthyProviderError{RequestType: RequestThinking, Required: CapabilityThinking, DefaultProvider: "main"}
	assert.Contains(t, err.Error(), "THINKING")
	assert.Contains(t, err.Error(), `"main"`)

	err = &NoHealthyProviderError{RequestType: RequestStandard}
	assert.Contains(t, err.Error(), "no default provider configured")
}

func TestErrorCode_Nil(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, CodeInvalidRequest, ErrorCode(errors.New("bad json")))
}
