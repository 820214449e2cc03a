// Package tracing provides OpenTelemetry tracing for the gateway.
//
// Spans are exported through the stdout exporter, which writes one JSON
// document per span to any io.Writer. The gateway opens a "gateway.route"
// span per request and a "gateway.dispatch" child span per provider attempt.
//
// # Trace Context Propagation
//
// W3C Trace Context is extracted from inbound HTTP requests by
// Tracer.HTTPMiddleware and injected into outbound provider calls with Inject:
//
//	traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//
// # Usage
//
//	tracer, err := tracing.New(cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "gateway.route")
//	defer span.End()
//
// When tracing is disabled New returns a noop tracer.
package tracing
