// Package server exposes the gateway over HTTP.
//
// Routes:
//
//	POST /v1/messages                        route an Anthropic Messages request
//	GET  /health                             liveness
//	GET  /ready                              readiness (gateway and provider checks)
//	GET  /version                            build information
//	GET  /metrics                            Prometheus exposition
//	GET  /ws/events                          live stream of dispatch records
//	GET  /admin/config                       active configuration, credentials masked
//	GET  /admin/metrics                      gateway metrics snapshot
//	GET  /admin/metrics/recent?n=            most recent dispatch records
//	GET  /admin/errors                       configuration problems
//	GET  /admin/providers?capability=        providers, optionally filtered by capability
//	POST /admin/providers/{name}/healthy     force a provider healthy
//	POST /admin/providers/{name}/unhealthy   force a provider unhealthy
//	POST /admin/debug/route                  explain routing for a request body
//	GET  /admin/snapshots                    stored configuration snapshots
//	POST /admin/snapshots                    take a snapshot now
//	GET  /admin/snapshots/{id}               one snapshot ("latest" for the newest)
//
// A request to /v1/messages carrying the X-Aimux-Provider header bypasses
// classification and is sent to that provider without failover.
//
// Every response carries X-Request-ID. The request ID is propagated to the
// gateway so that logs, spans and metrics of one request share it.
package server
