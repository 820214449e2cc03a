package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
)

const subsystem = "gateway"

// overflowLabel replaces provider names beyond the cardinality limit.
const overflowLabel = "other"

// Exporter publishes Collector events as Prometheus metrics.
//
// Metrics:
//   - <ns>_gateway_routed_requests_total{status,error}
//   - <ns>_gateway_requests_total{provider,status,code}
//   - <ns>_gateway_request_duration_seconds{provider}
//   - <ns>_gateway_estimated_tokens_total{provider}
//   - <ns>_gateway_provider_healthy{provider}
//   - <ns>_gateway_failovers_total
//   - <ns>_gateway_dropped_events_total
type Exporter struct {
	registry *prometheus.Registry

	routedTotal     *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	providerHealthy *prometheus.GaugeVec
	failoversTotal  prometheus.Counter

	limiter *CardinalityLimiter

	mu           sync.Mutex
	subscription *Subscription
}

// NewExporter creates the gateway metrics and registers them with registry.
// If registry is nil a new one is created. When collector is non-nil the
// exporter subscribes to it and reports its dropped event count.
func NewExporter(namespace string, registry *prometheus.Registry, collector *Collector) *Exporter {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = config.DefaultMetricsNamespace
	}

	e := &Exporter{
		registry: registry,
		routedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "routed_requests_total",
				Help:      "Total number of gateway requests by final outcome",
			},
			[]string{"status", "error"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of dispatch attempts by provider and outcome",
			},
			[]string{"provider", "status", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of provider dispatches in seconds",
				// Optimized for LLM request latencies (100ms - 60s)
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "estimated_tokens_total",
				Help:      "Estimated prompt tokens dispatched to each provider",
			},
			[]string{"provider"},
		),
		providerHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_healthy",
				Help:      "Provider health status (1=healthy, 0=unhealthy)",
			},
			[]string{"provider"},
		),
		failoversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "failovers_total",
				Help:      "Total number of dispatches made after a failed attempt",
			},
		),
		limiter: NewCardinalityLimiter(1000),
	}

	registry.MustRegister(
		e.routedTotal,
		e.requestsTotal,
		e.requestDuration,
		e.tokensTotal,
		e.providerHealthy,
		e.failoversTotal,
	)

	if collector != nil {
		registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dropped_events_total",
				Help:      "Metric events dropped because a subscriber fell behind",
			},
			func() float64 { return float64(collector.Aggregate().DroppedEvents) },
		))
		e.subscription = collector.Subscribe(e)
	}

	return e
}

// OnRequest implements Observer.
func (e *Exporter) OnRequest(m RequestMetrics) {
	status := "success"
	if !m.Success {
		status = "error"
	}
	if m.Final {
		kind := m.ErrorKind
		if kind == "" {
			kind = "none"
		}
		e.routedTotal.WithLabelValues(status, kind).Inc()
	}
	// Rejected before any dispatch.
	if m.Attempt == 0 {
		return
	}

	provider := e.label(m.ProviderName)

	e.requestsTotal.WithLabelValues(provider, status, strconv.Itoa(m.StatusCode)).Inc()
	e.requestDuration.WithLabelValues(provider).Observe(m.DurationMs / 1000)
	if m.EstimatedTokens > 0 {
		e.tokensTotal.WithLabelValues(provider).Add(float64(m.EstimatedTokens))
	}
	if m.Failover() {
		e.failoversTotal.Inc()
	}
}

// SetProviderHealth updates the health gauge of a provider.
func (e *Exporter) SetProviderHealth(provider string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	e.providerHealthy.WithLabelValues(e.label(provider)).Set(value)
}

// RemoveProvider deletes the health gauge of a removed provider.
func (e *Exporter) RemoveProvider(provider string) {
	e.providerHealthy.DeleteLabelValues(provider)
}

// Registry returns the Prometheus registry holding the gateway metrics.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Close stops consuming collector events.
func (e *Exporter) Close() {
	e.mu.Lock()
	s := e.subscription
	e.subscription = nil
	e.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

func (e *Exporter) label(provider string) string {
	if provider == "" {
		return "none"
	}
	if !e.limiter.Allow(provider) {
		return overflowLabel
	}
	return provider
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or still fits under the limit.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
