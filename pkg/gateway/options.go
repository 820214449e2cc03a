package gateway

import (
	"time"

	"go.uber.org/zap"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/processing/tokens"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing/strategies"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/metrics"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/tracing"
)

// Option configures a Manager.
type Option func(*Manager)

// WithBridge sets the bridge used for providers without an override.
// Default: an HTTP bridge speaking the Messages API.
func WithBridge(b Bridge) Option {
	return func(m *Manager) {
		if b != nil {
			m.bridge = b
		}
	}
}

// WithPrettifier sets the response post-processor.
func WithPrettifier(p Prettifier) Option {
	return func(m *Manager) {
		m.prettifier = p
	}
}

// WithProber sets the health prober. Default: the bridge, when it
// implements providers.Prober.
func WithProber(p providers.Prober) Option {
	return func(m *Manager) {
		m.prober = p
	}
}

// WithProbeTimeout bounds each background health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithRetryBudget sets the number of failover attempts after the first
// dispatch. Negative values are ignored.
func WithRetryBudget(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.retryBudget = n
		}
	}
}

// WithBalancer replaces the weighted random load balancer.
func WithBalancer(s strategies.Strategy) Option {
	return func(m *Manager) {
		if s != nil {
			m.balancer = s
		}
	}
}

// WithMetricsOptions configures the metrics collector.
func WithMetricsOptions(opts ...metrics.CollectorOption) Option {
	return func(m *Manager) {
		m.metricsOpts = append(m.metricsOpts, opts...)
	}
}

// WithEstimator replaces the token estimator.
func WithEstimator(e tokens.Estimator) Option {
	return func(m *Manager) {
		if e != nil {
			m.estimator = e
		}
	}
}

// WithTracer sets the tracer. Default: a no-op tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
