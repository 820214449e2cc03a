package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/processing/tokens"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers/bridge"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing/strategies"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/metrics"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/tracing"
)

// ErrInvalidRequest is returned for requests the gateway cannot route.
var ErrInvalidRequest = errors.New("invalid request")

// Bindings are the provider assignments per request category.
type Bindings struct {
	Default  string `json:"default_provider"`
	Thinking string `json:"thinking_provider"`
	Vision   string `json:"vision_provider"`
	Tools    string `json:"tools_provider"`
}

// forType returns the specialized binding for t. Standard requests have none.
func (b Bindings) forType(t routing.RequestType) string {
	switch t {
	case routing.RequestThinking:
		return b.Thinking
	case routing.RequestVision:
		return b.Vision
	case routing.RequestTools:
		return b.Tools
	default:
		return ""
	}
}

func (b *Bindings) set(t routing.RequestType, name string) {
	switch t {
	case routing.RequestThinking:
		b.Thinking = name
	case routing.RequestVision:
		b.Vision = name
	case routing.RequestTools:
		b.Tools = name
	default:
		b.Default = name
	}
}

// unbind clears every binding naming provider and returns the cleared fields.
func (b *Bindings) unbind(provider string) []string {
	var cleared []string
	for _, f := range []struct {
		field string
		value *string
	}{
		{"default_provider", &b.Default},
		{"thinking_provider", &b.Thinking},
		{"vision_provider", &b.Vision},
		{"tools_provider", &b.Tools},
	} {
		if *f.value == provider {
			*f.value = ""
			cleared = append(cleared, f.field)
		}
	}
	return cleared
}

// Manager orchestrates request routing across registered providers.
type Manager struct {
	registry   *providers.Registry
	monitor    *providers.HealthMonitor
	classifier *routing.Classifier
	balancer   strategies.Strategy
	failover   *strategies.Failover
	collector  *metrics.Collector
	estimator  tokens.Estimator
	tracer     *tracing.Tracer
	logger     *zap.Logger
	now        func() time.Time

	bridge       Bridge
	prober       providers.Prober
	probeTimeout time.Duration
	metricsOpts  []metrics.CollectorOption

	// adminMu serializes provider and configuration changes. It is never
	// taken on the request path.
	adminMu sync.Mutex

	mu          sync.RWMutex
	bindings    Bindings
	retryBudget int
	configs     map[string]config.ProviderConfig
	overrides   map[string]Bridge
	prettifier  Prettifier
	decisionFns []func(routing.RouteDecision)
	initialized bool
}

// New creates a Manager with no providers. Call Initialize before routing.
func New(opts ...Option) *Manager {
	m := &Manager{
		registry:     providers.NewRegistry(),
		classifier:   routing.NewClassifier(),
		estimator:    tokens.NewTiktokenEstimator(),
		tracer:       tracing.Noop(),
		logger:       zap.NewNop(),
		now:          time.Now,
		probeTimeout: config.DefaultProbeTimeout,
		retryBudget:  config.DefaultRetryBudget,
		configs:      make(map[string]config.ProviderConfig),
		overrides:    make(map[string]Bridge),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.balancer == nil {
		m.balancer = strategies.NewWeightedRandom()
	}
	m.failover = strategies.NewFailover(m.balancer)
	if m.bridge == nil {
		m.bridge = bridge.New(bridge.WithLogger(m.logger))
	}
	if m.prober == nil {
		if p, ok := m.bridge.(providers.Prober); ok {
			m.prober = p
		}
	}

	collectorOpts := append([]metrics.CollectorOption{metrics.WithHealthSource(m.registry.HealthyCount)}, m.metricsOpts...)
	m.collector = metrics.NewCollector(collectorOpts...)

	m.monitor = providers.NewHealthMonitor(m.registry, m.prober,
		providers.WithProbeTimeout(m.probeTimeout),
		providers.WithLogger(m.logger),
		providers.WithClock(m.now),
	)
	return m
}

// NewFromConfig creates a Manager and loads cfg into it. Configuration
// errors are fatal: no Manager is returned.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Manager, error) {
	prepared, err := prepare(cfg)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithRetryBudget(prepared.Routing.RetryBudget),
		WithProbeTimeout(prepared.Routing.ProbeTimeout),
		WithMetricsOptions(
			metrics.WithHistory(prepared.Routing.MetricsHistory),
			metrics.WithEventBuffer(prepared.Routing.EventBuffer),
		),
	}
	m := New(append(base, opts...)...)
	m.apply(prepared)
	return m, nil
}

// Initialize starts the background health monitor and makes the Manager
// servable. Calling it again has no effect.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if err := m.monitor.Start(ctx); err != nil {
		return err
	}
	m.initialized = true

	m.logger.Info("gateway initialized",
		zap.Int("providers", m.registry.Len()),
		zap.Int("healthy_providers", m.registry.HealthyCount()),
		zap.String("default_provider", m.bindings.Default),
		zap.Int("retry_budget", m.retryBudget),
	)
	return nil
}

// Initialized reports whether the Manager accepts requests.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Shutdown stops the health monitor, releases bridge connections and
// removes every provider. Further requests are rejected. It is safe to call
// more than once. When ctx expires before the monitor stops, the bridge is
// still closed and ctx.Err is returned; providers are then removed once the
// monitor has stopped.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	wasInitialized := m.initialized
	m.initialized = false
	m.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		m.monitor.Stop()
		m.clearProviders()
		close(stopped)
	}()

	var err error
	select {
	case <-stopped:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if closer, ok := m.bridge.(interface{ Close() }); ok {
		closer.Close()
	}

	if wasInitialized {
		m.logger.Info("gateway shut down",
			zap.Int64("total_requests", m.collector.Aggregate().TotalRequests),
			zap.Error(err),
		)
	}
	return err
}

// clearProviders removes every provider together with its configuration,
// bridge override and bindings.
func (m *Manager) clearProviders() {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	names := m.registry.Names()
	m.registry.Clear()
	for _, name := range names {
		m.forget(name)
	}

	m.mu.Lock()
	m.configs = make(map[string]config.ProviderConfig)
	m.overrides = make(map[string]Bridge)
	m.bindings = Bindings{}
	m.mu.Unlock()
}

// AddProvider registers a provider, replacing any provider with the same
// name. The configuration must carry a base URL and credential.
func (m *Manager) AddProvider(name string, pc config.ProviderConfig) error {
	config.ApplyProviderDefaults(&pc)
	if err := config.ValidateProvider(name, pc); err != nil {
		return &routing.ConfigurationError{Provider: name, Reason: "invalid provider configuration", Err: err}
	}

	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	entry := providers.EntryFromConfig(name, pc)
	m.mu.Lock()
	m.configs[name] = pc
	m.mu.Unlock()

	replaced := m.registry.Add(entry)
	if replaced {
		m.dropUnsupportedBindings(entry)
	}

	m.logger.Info("provider added",
		zap.String("provider", name),
		zap.String("base_url", pc.BaseURL),
		zap.Bool("replaced", replaced),
		zap.Int("total_providers", m.registry.Len()),
	)
	return nil
}

// UpdateProvider replaces the configuration of a registered provider while
// keeping its health state.
func (m *Manager) UpdateProvider(name string, pc config.ProviderConfig) error {
	config.ApplyProviderDefaults(&pc)
	if err := config.ValidateProvider(name, pc); err != nil {
		return &routing.ConfigurationError{Provider: name, Reason: "invalid provider configuration", Err: err}
	}

	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	entry := providers.EntryFromConfig(name, pc)
	if err := m.registry.Update(entry); err != nil {
		return err
	}

	m.mu.Lock()
	m.configs[name] = pc
	m.mu.Unlock()
	m.dropUnsupportedBindings(entry)

	m.logger.Info("provider updated", zap.String("provider", name))
	return nil
}

// RemoveProvider unregisters a provider and clears any binding to it.
func (m *Manager) RemoveProvider(name string) error {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	if !m.registry.Remove(name) {
		return m.notFound(name)
	}

	m.mu.Lock()
	delete(m.configs, name)
	delete(m.overrides, name)
	cleared := m.bindings.unbind(name)
	m.mu.Unlock()

	m.forget(name)

	if len(cleared) > 0 {
		m.logger.Warn("removed provider was bound",
			zap.String("provider", name),
			zap.Strings("cleared", cleared),
		)
	}
	m.logger.Info("provider removed",
		zap.String("provider", name),
		zap.Int("remaining_providers", m.registry.Len()),
	)
	return nil
}

// SetDefaultProvider sets the degraded-mode fallback. An empty name clears it.
func (m *Manager) SetDefaultProvider(name string) error {
	return m.bind(routing.RequestStandard, name)
}

// SetThinkingProvider binds reasoning requests to name. An empty name clears it.
func (m *Manager) SetThinkingProvider(name string) error {
	return m.bind(routing.RequestThinking, name)
}

// SetVisionProvider binds image requests to name. An empty name clears it.
func (m *Manager) SetVisionProvider(name string) error {
	return m.bind(routing.RequestVision, name)
}

// SetToolsProvider binds tool-use requests to name. An empty name clears it.
func (m *Manager) SetToolsProvider(name string) error {
	return m.bind(routing.RequestTools, name)
}

func (m *Manager) bind(t routing.RequestType, name string) error {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	if name != "" {
		caps, ok := m.registry.Capabilities(name)
		if !ok {
			return m.notFound(name)
		}
		if required := routing.CapabilityFor(t); required != "" && !caps.Supports(required) {
			return &routing.CapabilityMismatchError{ProviderName: name, Required: required}
		}
	}

	m.mu.Lock()
	m.bindings.set(t, name)
	m.mu.Unlock()

	m.logger.Info("provider binding changed",
		zap.Stringer("request_type", t),
		zap.String("provider", name),
	)
	return nil
}

// dropUnsupportedBindings clears the specialized bindings to e that require
// a capability e no longer has. The caller holds adminMu.
func (m *Manager) dropUnsupportedBindings(e providers.Entry) {
	var cleared []string

	m.mu.Lock()
	for _, t := range []routing.RequestType{routing.RequestThinking, routing.RequestVision, routing.RequestTools} {
		if m.bindings.forType(t) != e.Name {
			continue
		}
		if required := routing.CapabilityFor(t); !e.Capabilities.Supports(required) {
			m.bindings.set(t, "")
			cleared = append(cleared, t.String())
		}
	}
	m.mu.Unlock()

	if len(cleared) > 0 {
		m.logger.Warn("provider lost capability of its binding, binding cleared",
			zap.String("provider", e.Name),
			zap.Strings("cleared", cleared),
		)
	}
}

// OnRouteDecision registers fn to receive the RouteDecision of every
// classified request. fn runs on the request path after routing finished
// and must not block.
func (m *Manager) OnRouteDecision(fn func(routing.RouteDecision)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.decisionFns = append(m.decisionFns, fn)
	m.mu.Unlock()
}

func (m *Manager) publishDecision(d routing.RouteDecision) {
	m.mu.RLock()
	fns := m.decisionFns
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(d)
	}
}

// Bindings returns the current provider bindings.
func (m *Manager) Bindings() Bindings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bindings
}

// RetryBudget returns the number of failover attempts after the first dispatch.
func (m *Manager) RetryBudget() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryBudget
}

// SetBridge overrides the bridge for one provider. A nil bridge removes
// the override.
func (m *Manager) SetBridge(name string, b Bridge) error {
	if !m.registry.Exists(name) {
		return m.notFound(name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b == nil {
		delete(m.overrides, name)
		return nil
	}
	m.overrides[name] = b
	return nil
}

// SetPrettifier replaces the response post-processor. Nil disables it.
func (m *Manager) SetPrettifier(p Prettifier) {
	m.mu.Lock()
	m.prettifier = p
	m.mu.Unlock()
}

func (m *Manager) bridgeFor(name string) Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.overrides[name]; ok {
		return b
	}
	return m.bridge
}

// forget releases per-provider bridge state.
func (m *Manager) forget(name string) {
	if f, ok := m.bridge.(interface{ Forget(string) }); ok {
		f.Forget(name)
	}
}

// LoadConfiguration replaces providers and bindings with cfg. Providers
// present before and after keep their health state. On error nothing is
// changed.
func (m *Manager) LoadConfiguration(cfg *config.Config) error {
	prepared, err := prepare(cfg)
	if err != nil {
		return err
	}
	m.apply(prepared)
	return nil
}

func (m *Manager) apply(cfg *config.Config) {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	var removed []string
	for _, name := range m.registry.Names() {
		if _, ok := cfg.Providers[name]; !ok {
			m.registry.Remove(name)
			m.forget(name)
			removed = append(removed, name)
		}
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, name := range names {
		pc := cfg.Providers[name]
		configs[name] = pc
		entry := providers.EntryFromConfig(name, pc)
		if err := m.registry.Update(entry); err != nil {
			m.registry.Add(entry)
		}
	}

	m.mu.Lock()
	m.configs = configs
	m.bindings = Bindings{
		Default:  cfg.DefaultProvider,
		Thinking: cfg.ThinkingProvider,
		Vision:   cfg.VisionProvider,
		Tools:    cfg.ToolsProvider,
	}
	m.retryBudget = cfg.Routing.RetryBudget
	for _, name := range removed {
		delete(m.overrides, name)
	}
	m.mu.Unlock()

	m.logger.Info("configuration loaded",
		zap.Int("providers", len(names)),
		zap.Strings("removed", removed),
		zap.String("default_provider", cfg.DefaultProvider),
	)
}

// prepare copies cfg, applies defaults and validates it, including the
// capabilities of specialized bindings.
func prepare(cfg *config.Config) (*config.Config, error) {
	if cfg == nil {
		return nil, &routing.ConfigurationError{Reason: "configuration is nil"}
	}

	c := *cfg
	c.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		c.Providers[name] = pc
	}
	config.ApplyDefaults(&c)

	if err := config.Validate(&c); err != nil {
		return nil, &routing.ConfigurationError{Reason: "invalid configuration", Err: err}
	}

	for _, b := range []struct {
		t    routing.RequestType
		name string
	}{
		{routing.RequestThinking, c.ThinkingProvider},
		{routing.RequestVision, c.VisionProvider},
		{routing.RequestTools, c.ToolsProvider},
	} {
		if b.name == "" {
			continue
		}
		required := routing.CapabilityFor(b.t)
		if !providers.CapabilitiesFromFlags(c.Providers[b.name].Flags()).Supports(required) {
			return nil, &routing.ConfigurationError{
				Provider: b.name,
				Reason:   "specialized binding lacks capability",
				Err:      &routing.CapabilityMismatchError{ProviderName: b.name, Required: required},
			}
		}
	}

	return &c, nil
}

// OnProviderChange registers fn for provider additions and removals. It is
// called after the registry lock is released.
func (m *Manager) OnProviderChange(fn func(name string, added bool)) {
	m.registry.OnChange(fn)
}

// OnHealthTransition registers fn for circuit breaker transitions.
func (m *Manager) OnHealthTransition(fn providers.TransitionFunc) {
	m.monitor.OnTransition(fn)
}

// MarkHealthy closes the circuit of name immediately.
func (m *Manager) MarkHealthy(name string) error {
	return m.monitor.MarkHealthy(name)
}

// MarkUnhealthy opens the circuit of name immediately.
func (m *Manager) MarkUnhealthy(name string) error {
	return m.monitor.MarkUnhealthy(name)
}

// Collector returns the metrics collector fed by every request and dispatch.
func (m *Manager) Collector() *metrics.Collector {
	return m.collector
}

// Provider returns a copy of the named entry with its credential masked.
func (m *Manager) Provider(name string) (providers.Entry, error) {
	e, ok := m.registry.Get(name)
	if !ok {
		return providers.Entry{}, m.notFound(name)
	}
	return e.Redacted(), nil
}

func (m *Manager) notFound(name string) error {
	return &routing.ProviderNotFoundError{ProviderName: name, AvailableProviders: m.registry.Names()}
}
