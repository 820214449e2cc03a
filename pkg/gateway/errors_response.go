package gateway

import (
	"encoding/json"
	"time"
)

// ErrorBody is the JSON body of a failed gateway response.
type ErrorBody struct {
	Error     ErrorDetail `json:"error"`
	Timestamp string      `json:"timestamp"`
}

// ErrorDetail describes a gateway error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewErrorBody encodes a gateway error body.
func NewErrorBody(code, message string, at time.Time) []byte {
	body, err := json.Marshal(ErrorBody{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Type:    "gateway_error",
		},
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Only strings are encoded; this cannot happen.
		return []byte(`{"error":{"code":"INTERNAL_ERROR","message":"failed to encode error","type":"gateway_error"}}`)
	}
	return body
}
