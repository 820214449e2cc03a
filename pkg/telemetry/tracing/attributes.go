package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on gateway spans.
const (
	AttrRequestID   = "aimux.request_id"
	AttrRequestType = "aimux.request_type"
	AttrProvider    = "aimux.provider"
	AttrModel       = "aimux.model"
	AttrAttempt     = "aimux.attempt"
	AttrCandidates  = "aimux.candidates"
	AttrDegraded    = "aimux.degraded"
	AttrStatusCode  = "http.status_code"
	AttrErrorCode   = "aimux.error.code"
	AttrTokens      = "aimux.tokens.estimated"
)

// SetRouteAttributes annotates a routing span.
func SetRouteAttributes(span trace.Span, requestID, requestType, model string, candidates []string) {
	span.SetAttributes(
		attribute.String(AttrRequestID, requestID),
		attribute.String(AttrRequestType, requestType),
		attribute.String(AttrModel, model),
		attribute.StringSlice(AttrCandidates, candidates),
	)
}

// SetDispatchAttributes annotates a dispatch span.
func SetDispatchAttributes(span trace.Span, provider string, attempt, statusCode int) {
	span.SetAttributes(
		attribute.String(AttrProvider, provider),
		attribute.Int(AttrAttempt, attempt),
		attribute.Int(AttrStatusCode, statusCode),
	)
}

// AddEvent records a named event on the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
