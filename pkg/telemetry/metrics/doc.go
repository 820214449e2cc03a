// Package metrics aggregates gateway request metrics.
//
// # Collector
//
// Collector is the in-memory aggregate: atomic request and success counters,
// per-provider summaries and a bounded history of the most recent records.
// Record is safe for concurrent use and never blocks on observers.
//
// Each request ends in exactly one Record call, so Aggregate reports
// requests rather than dispatches. A dispatch that was followed by a
// failover is passed to RecordAttempt instead: it reaches provider
// summaries, history and observers but not the request totals.
//
//	collector := metrics.NewCollector(metrics.WithHealthSource(registry.HealthyCount))
//	collector.Record(metrics.RequestMetrics{ProviderName: "main", DurationMs: 420, Success: true, StatusCode: 200})
//	agg := collector.Aggregate()
//
// # Observers
//
// Subscribe attaches an Observer behind a buffered channel drained by its
// own goroutine. A slow observer loses events instead of slowing requests;
// losses are reported in Aggregate.DroppedEvents.
//
// # Prometheus
//
// Exporter is an Observer that turns records into Prometheus series.
// routed_requests_total counts final outcomes; the provider-labelled series
// count dispatches:
//
//	# HELP aimux_gateway_requests_total Total number of dispatch attempts by provider and outcome
//	# TYPE aimux_gateway_requests_total counter
//	aimux_gateway_requests_total{code="200",provider="main",status="success"} 1234
//
// Provider labels are capped by a CardinalityLimiter; names beyond the cap
// are reported as "other".
package metrics
