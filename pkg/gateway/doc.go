// Package gateway routes requests across a pool of interchangeable
// LLM providers.
//
// # Overview
//
// The Manager owns every routing component: the provider registry, the
// health monitor (a per-provider circuit breaker), the request classifier,
// the weighted load balancer with its failover selector and the metrics
// collector. Requests are dispatched through a Bridge, which is the only
// part of the gateway that performs network I/O.
//
// # Routing
//
// RouteRequest classifies the request, then builds the candidate set:
//
//  1. A healthy specialized binding for the request type (thinking,
//     vision or tools) is the sole candidate.
//  2. Otherwise every healthy, enabled provider that supports the required
//     capability is a candidate.
//  3. If none qualifies, a healthy default provider is used even when it
//     lacks the capability (degraded mode).
//  4. If there is still nothing, the request fails with
//     NO_HEALTHY_PROVIDER.
//
// One candidate is chosen by weighted random selection and dispatched. A
// failed dispatch counts against the provider's circuit breaker and the
// request fails over to another capable healthy provider while the retry
// budget lasts.
//
// # Usage
//
//	cfg, err := config.LoadConfig("aimux.yaml")
//	if err != nil {
//	    return err
//	}
//	mgr, err := gateway.NewFromConfig(cfg, gateway.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := mgr.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Shutdown(context.Background())
//
//	resp := mgr.RouteRequest(ctx, req)
//	if !resp.Success {
//	    log.Printf("%s: %s", resp.ErrorCode, resp.ErrorMessage)
//	}
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use. No lock is held while a
// request is being dispatched.
package gateway
