// Package health serves the gateway's liveness and readiness probes.
//
//   - /health answers 200 while the process runs.
//   - /ready runs every registered check. A failing critical check (for
//     example "no healthy provider") answers 503; failing non-critical checks
//     report "degraded" with 200.
//
// Usage:
//
//	checker := health.New(5 * time.Second)
//	checker.Register("providers", true, func(ctx context.Context) error {
//	    if registry.HealthyCount() == 0 {
//	        return errors.New("no healthy providers")
//	    }
//	    return nil
//	})
//	r.Get("/ready", checker.ReadinessHandler())
package health
