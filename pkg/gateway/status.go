package gateway

import (
	"fmt"
	"sort"
	"time"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/logging"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/metrics"
)

// ProviderHealth is the circuit breaker state of one provider.
type ProviderHealth struct {
	State          providers.HealthState `json:"state"`
	Enabled        bool                  `json:"enabled"`
	FailureCount   int                   `json:"failure_count"`
	UnhealthySince time.Time             `json:"unhealthy_since,omitzero"`
	LastCheck      time.Time             `json:"last_check,omitzero"`
	LastError      string                `json:"last_error,omitempty"`
}

// MetricsSnapshot is the gateway-wide view returned by Metrics.
type MetricsSnapshot struct {
	TotalProviders     int                              `json:"total_providers"`
	HealthyProviders   int                              `json:"healthy_providers"`
	UnhealthyProviders int                              `json:"unhealthy_providers"`
	TotalRequests      int64                            `json:"total_requests"`
	SuccessfulRequests int64                            `json:"successful_requests"`
	FailedRequests     int64                            `json:"failed_requests"`
	SuccessRate        float64                          `json:"success_rate"`
	AvgResponseTimeMs  float64                          `json:"avg_response_time_ms"`
	Failovers          int64                            `json:"failovers"`
	ProviderHealth     map[string]ProviderHealth        `json:"provider_health"`
	PerProvider        map[string]metrics.ProviderStats `json:"per_provider"`
}

// Metrics returns request totals and per-provider health and statistics.
// Totals count each routed request once, including requests rejected
// before dispatch. Per-provider statistics count every dispatch attempt.
func (m *Manager) Metrics() MetricsSnapshot {
	agg := m.collector.Aggregate()
	snap := MetricsSnapshot{
		TotalRequests:      agg.TotalRequests,
		SuccessfulRequests: agg.SuccessCount,
		FailedRequests:     agg.FailureCount,
		SuccessRate:        agg.SuccessRate,
		AvgResponseTimeMs:  agg.AvgResponseTimeMs,
		Failovers:          agg.Failovers,
		ProviderHealth:     make(map[string]ProviderHealth),
		PerProvider:        m.collector.ProviderStats(),
	}

	for _, e := range m.registry.Snapshot() {
		snap.TotalProviders++
		if e.Healthy() {
			snap.HealthyProviders++
		} else {
			snap.UnhealthyProviders++
		}
		snap.ProviderHealth[e.Name] = ProviderHealth{
			State:          e.Health,
			Enabled:        e.Enabled,
			FailureCount:   e.FailureCount,
			UnhealthySince: e.UnhealthySince,
			LastCheck:      e.LastCheck,
			LastError:      e.LastError,
		}
	}
	return snap
}

// ConfigurationView is the active configuration with credentials masked.
type ConfigurationView struct {
	Bindings
	RetryBudget int                              `json:"retry_budget"`
	Providers   map[string]config.ProviderConfig `json:"providers"`
}

// Configuration returns the registered providers and bindings.
func (m *Manager) Configuration() ConfigurationView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view := ConfigurationView{
		Bindings:    m.bindings,
		RetryBudget: m.retryBudget,
		Providers:   make(map[string]config.ProviderConfig, len(m.configs)),
	}
	for name, pc := range m.configs {
		pc.APIKey = logging.RedactAPIKey(pc.APIKey)
		pc.Models = append([]string(nil), pc.Models...)
		view.Providers[name] = pc
	}
	return view
}

// ConfigurationErrors lists problems with the active configuration that
// do not prevent serving.
func (m *Manager) ConfigurationErrors() []string {
	var problems []string

	if m.registry.Len() == 0 {
		problems = append(problems, "no providers configured")
	}

	b := m.Bindings()
	if b.Default == "" {
		problems = append(problems, "no default provider configured")
	}
	if b.Thinking == "" {
		problems = append(problems, "no thinking provider configured")
	}

	for _, e := range m.registry.Snapshot() {
		switch {
		case !e.Enabled:
			problems = append(problems, fmt.Sprintf("provider disabled: %s", e.Name))
		case !e.Healthy():
			problems = append(problems, fmt.Sprintf("provider unhealthy: %s", e.Name))
		}
	}
	return problems
}

// RoutingDebug explains how a request would be routed.
type RoutingDebug struct {
	Analysis           routing.RequestAnalysis           `json:"analysis"`
	Bindings           Bindings                          `json:"bindings"`
	HealthyProviders   []string                          `json:"healthy_providers"`
	Capabilities       map[string]providers.Capabilities `json:"capabilities"`
	Candidates         []string                          `json:"candidates"`
	WouldSelect        string                            `json:"would_select,omitempty"`
	SpecializedBinding bool                              `json:"specialized_binding"`
	Degraded           bool                              `json:"degraded"`
	Error              string                            `json:"error,omitempty"`
}

// DebugRoutingDecision runs classification and candidate filtering for req
// without dispatching it.
func (m *Manager) DebugRoutingDecision(req *routing.Request) RoutingDebug {
	p := m.plan(req)
	debug := RoutingDebug{
		Analysis:           p.analysis,
		Bindings:           m.Bindings(),
		HealthyProviders:   entryNames(m.registry.ListByHealth(providers.HealthHealthy)),
		Capabilities:       make(map[string]providers.Capabilities),
		Candidates:         entryNames(p.candidates),
		SpecializedBinding: p.specialized,
		Degraded:           p.degraded,
	}
	for _, e := range m.registry.Snapshot() {
		debug.Capabilities[e.Name] = e.Capabilities
	}

	if p.err != nil {
		debug.Error = p.err.Error()
		return debug
	}
	if selected, err := m.balancer.Select(p.candidates); err == nil {
		debug.WouldSelect = selected
	}
	return debug
}

// ProvidersWithCapability returns the registered providers supporting
// capability, regardless of health, sorted by name.
func (m *Manager) ProvidersWithCapability(capability routing.Capability) []string {
	var names []string
	for _, e := range m.registry.Snapshot() {
		if e.Capabilities.Supports(capability) {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}
