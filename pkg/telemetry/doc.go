// Package telemetry groups the gateway's observability packages.
//
// # Components
//
//   - logging: zap loggers with credential redaction and request-scoped fields
//   - metrics: the in-process dispatch collector and its Prometheus exporter
//   - tracing: OpenTelemetry spans for routing and dispatch
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	tracer, err := tracing.New(cfg.Telemetry.Tracing, tracing.WithVersion(version))
//	exporter := metrics.NewExporter(cfg.Telemetry.Metrics.Namespace, nil, manager.Collector())
//
// # Credential Redaction
//
// Log messages and string fields pass through a Redactor before any sink:
//
//   - API keys: sk-abc123 → sk-***
//   - Bearer tokens: Bearer abc → Bearer ***
//   - key headers: x-api-key: abc → x-api-key: ***
//
// Custom patterns are configured under telemetry.logging.redact_patterns.
package telemetry
