// Package providers holds the registered upstream providers and their
// circuit-breaker health.
//
// # Overview
//
// A provider is described by an Entry: its configuration (base URL,
// credential, models), its Capabilities, the Performance figures the load
// balancer weighs (priority score, average response time, cost per output
// token), its Limits (max concurrent requests, max failures, recovery
// delay, health check interval) and its current health. Entries are built
// from configuration with EntryFromConfig.
//
// The package does not talk to providers itself. Dispatching a request is
// the job of a Bridge (see the bridge subpackage), which reports a
// DispatchResult. Health probes go through the Prober interface.
//
// # Registry
//
// Registry is the single authoritative store of entries:
//
//	registry := providers.NewRegistry()
//	registry.Add(providers.EntryFromConfig("anthropic", cfg.Providers["anthropic"]))
//
//	for _, e := range registry.Candidates([]routing.Capability{routing.CapabilityVision}) {
//	    fmt.Println(e.Name, e.Performance.PriorityScore)
//	}
//
// Snapshot returns every entry ordered by name, ListByHealth filters by
// state and Candidates returns the healthy, enabled entries supporting all
// required capabilities. Every read returns copies, so callers iterate
// without holding any lock.
//
// # Health
//
// Each entry is HEALTHY or UNHEALTHY; new entries start HEALTHY and Update
// keeps the current state. The circuit breaker lives in the registry:
//
//   - RecordFailure increments the failure count and opens the circuit
//     once it reaches MaxFailures (values below 1 count as 1).
//   - RecordSuccess resets the failure count. An UNHEALTHY entry only
//     closes on success after its RecoveryDelay has elapsed.
//   - SetHealth forces a state. Entering HEALTHY clears the failure count.
//
// HealthMonitor wraps these mutations for the gateway, exposes
// MarkHealthy and MarkUnhealthy overrides and notifies TransitionFunc
// listeners. Start launches a probe loop that, on a fixed interval,
// probes each UNHEALTHY entry whose HealthCheckInterval has passed and
// closes its circuit on success:
//
//	monitor := providers.NewHealthMonitor(registry, prober,
//	    providers.WithProbeTimeout(5*time.Second),
//	    providers.WithLogger(logger),
//	)
//	if err := monitor.Start(ctx); err != nil {
//	    return err
//	}
//	defer monitor.Stop()
//
// # Locking
//
// The registry has one lock. It is held only while copying or mutating
// entries, never during a probe, a dispatch or a callback. ChangeFunc and
// TransitionFunc listeners run after the lock is released, so they may
// call back into the registry. Health mutations of one provider are
// therefore linearizable.
package providers
