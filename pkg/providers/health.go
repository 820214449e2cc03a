package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// Prober checks whether a provider is reachable.
type Prober interface {
	Probe(ctx context.Context, e Entry) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, e Entry) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, e Entry) error {
	return f(ctx, e)
}

// TransitionFunc is notified when a provider changes health state.
type TransitionFunc func(Transition)

// HealthMonitor drives the circuit breaker of every registered provider.
//
// Request outcomes are fed in through RecordSuccess and RecordFailure. A
// background loop started with Start probes unhealthy providers once their
// health check interval is due. Probes run without any lock held; only the
// resulting state write goes through the registry lock.
type HealthMonitor struct {
	registry     *Registry
	prober       Prober
	logger       *zap.Logger
	probeTimeout time.Duration
	now          func() time.Time

	mu        sync.Mutex
	nextProbe map[string]time.Time
	listeners []TransitionFunc
	cancel    context.CancelFunc
	done      chan struct{}
}

// MonitorOption configures a HealthMonitor.
type MonitorOption func(*HealthMonitor)

// WithProbeTimeout bounds each background probe.
func WithProbeTimeout(d time.Duration) MonitorOption {
	return func(m *HealthMonitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithLogger sets the monitor logger.
func WithLogger(logger *zap.Logger) MonitorOption {
	return func(m *HealthMonitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *HealthMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewHealthMonitor creates a monitor over registry. A nil prober disables
// background recovery; providers then recover only through successful
// requests after their recovery delay or through MarkHealthy.
func NewHealthMonitor(registry *Registry, prober Prober, opts ...MonitorOption) *HealthMonitor {
	m := &HealthMonitor{
		registry:     registry,
		prober:       prober,
		logger:       zap.NewNop(),
		probeTimeout: config.DefaultProbeTimeout,
		now:          time.Now,
		nextProbe:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnTransition registers a listener for health state changes.
func (m *HealthMonitor) OnTransition(fn TransitionFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// IsHealthy reports whether name is registered and healthy.
func (m *HealthMonitor) IsHealthy(name string) bool {
	e, ok := m.registry.Get(name)
	return ok && e.Healthy()
}

// RecordSuccess feeds a successful dispatch into the circuit breaker.
func (m *HealthMonitor) RecordSuccess(name string) Transition {
	t, _ := m.registry.RecordSuccess(name, m.now())
	m.publish(t)
	return t
}

// RecordFailure feeds a failed dispatch into the circuit breaker.
func (m *HealthMonitor) RecordFailure(name string, cause error) Transition {
	t, _ := m.registry.RecordFailure(name, cause, m.now())
	m.publish(t)
	return t
}

// MarkHealthy closes the circuit of name immediately.
func (m *HealthMonitor) MarkHealthy(name string) error {
	return m.force(name, HealthHealthy)
}

// MarkUnhealthy opens the circuit of name immediately.
func (m *HealthMonitor) MarkUnhealthy(name string) error {
	return m.force(name, HealthUnhealthy)
}

func (m *HealthMonitor) force(name string, state HealthState) error {
	t, ok := m.registry.SetHealth(name, state, m.now())
	if !ok {
		return &routing.ProviderNotFoundError{ProviderName: name, AvailableProviders: m.registry.Names()}
	}
	m.publish(t)
	return nil
}

func (m *HealthMonitor) publish(t Transition) {
	if !t.Changed() {
		return
	}

	m.mu.Lock()
	if t.To == HealthHealthy {
		delete(m.nextProbe, t.Name)
	}
	listeners := append([]TransitionFunc(nil), m.listeners...)
	m.mu.Unlock()

	if t.To == HealthUnhealthy {
		m.logger.Warn("provider marked unhealthy",
			zap.String("provider", t.Name),
			zap.Int("failure_count", t.FailureCount),
		)
	} else {
		m.logger.Info("provider marked healthy", zap.String("provider", t.Name))
	}

	for _, fn := range listeners {
		fn(t)
	}
}

// Start launches the background probe loop. It returns an error if the loop
// is already running.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return errors.New("health monitor already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	return nil
}

// Stop terminates the probe loop and waits for it to exit. It is safe to
// call on a monitor that was never started.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *HealthMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := m.tickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("health monitor started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("health monitor stopped")
			return
		case <-ticker.C:
			m.ProbeUnhealthy(ctx)

			if next := m.tickInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// tickInterval is the smallest health check interval among registered
// providers.
func (m *HealthMonitor) tickInterval() time.Duration {
	var smallest time.Duration
	for _, e := range m.registry.Snapshot() {
		d := e.Limits.HealthCheckInterval
		if d > 0 && (smallest == 0 || d < smallest) {
			smallest = d
		}
	}
	if smallest == 0 {
		smallest = config.DefaultHealthCheckInterval * time.Second
	}
	return smallest
}

// ProbeUnhealthy probes every enabled unhealthy provider whose check is due
// and applies the results. It returns the number of providers probed.
func (m *HealthMonitor) ProbeUnhealthy(ctx context.Context) int {
	if m.prober == nil {
		return 0
	}

	now := m.now()
	due := m.dueProviders(now)

	var wg sync.WaitGroup
	for _, e := range due {
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			m.probe(ctx, e)
		}(e)
	}
	wg.Wait()
	return len(due)
}

func (m *HealthMonitor) dueProviders(now time.Time) []Entry {
	unhealthy := m.registry.ListByHealth(HealthUnhealthy)

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(unhealthy))
	var due []Entry
	for _, e := range unhealthy {
		seen[e.Name] = struct{}{}
		if !e.Enabled {
			continue
		}
		next, ok := m.nextProbe[e.Name]
		if !ok {
			next = e.UnhealthySince.Add(e.Limits.HealthCheckInterval)
		}
		if now.Before(next) {
			continue
		}
		m.nextProbe[e.Name] = now.Add(e.Limits.HealthCheckInterval)
		due = append(due, e)
	}
	for name := range m.nextProbe {
		if _, ok := seen[name]; !ok {
			delete(m.nextProbe, name)
		}
	}
	return due
}

func (m *HealthMonitor) probe(ctx context.Context, e Entry) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	err := m.prober.Probe(probeCtx, e)
	latency := time.Since(start)

	if err != nil {
		m.logger.Debug("health probe failed",
			zap.String("provider", e.Name),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		t, _ := m.registry.RecordFailure(e.Name, err, m.now())
		m.publish(t)
		return
	}

	m.logger.Debug("health probe passed",
		zap.String("provider", e.Name),
		zap.Duration("latency", latency),
	)
	t, _ := m.registry.SetHealth(e.Name, HealthHealthy, m.now())
	m.publish(t)
}
