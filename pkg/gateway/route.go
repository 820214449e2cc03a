package gateway

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/logging"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/metrics"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/tracing"
)

// routePlan is the outcome of classification and candidate filtering.
type routePlan struct {
	analysis    routing.RequestAnalysis
	candidates  []providers.Entry
	specialized bool
	degraded    bool
	err         error
}

// plan classifies req and builds its candidate set. It never blocks.
func (m *Manager) plan(req *routing.Request) routePlan {
	analysis := m.classifier.Analyze(req)
	p := routePlan{analysis: analysis}
	bindings := m.Bindings()

	if name := bindings.forType(analysis.Type); name != "" {
		e, ok := m.registry.Get(name)
		if ok && e.Routable() && e.Capabilities.SupportsAll(analysis.RequiredCapabilities) {
			p.candidates = []providers.Entry{e}
			p.specialized = true
			return p
		}
	}

	p.candidates = m.registry.Candidates(analysis.RequiredCapabilities)
	if len(p.candidates) > 0 {
		return p
	}

	if name := bindings.Default; name != "" {
		if e, ok := m.registry.Get(name); ok && e.Routable() {
			p.candidates = []providers.Entry{e}
			p.degraded = true
			return p
		}
	}

	p.err = &routing.NoHealthyProviderError{
		RequestType:     analysis.Type,
		Required:        routing.CapabilityFor(analysis.Type),
		DefaultProvider: bindings.Default,
	}
	return p
}

// alternatives returns the healthy capable providers not yet attempted.
func (m *Manager) alternatives(analysis routing.RequestAnalysis, attempted []string) []providers.Entry {
	pool := m.registry.Candidates(analysis.RequiredCapabilities)
	out := pool[:0]
	for _, e := range pool {
		if !slices.Contains(attempted, e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// RouteRequest routes req to a provider and returns its response. It never
// returns nil; failures are reported in the Response. Every call records
// exactly one final metrics record and, once classified, publishes its
// RouteDecision.
func (m *Manager) RouteRequest(ctx context.Context, req *routing.Request) *routing.Response {
	ctx, requestID := m.requestContext(ctx)
	start := m.now()
	logger := logging.FromContext(ctx, m.logger)

	if !m.Initialized() {
		return m.reject(requestID, routing.RequestStandard, start, "", routing.ErrNotInitialized)
	}
	if err := validateRequest(req); err != nil {
		return m.reject(requestID, routing.RequestStandard, start, "", err)
	}

	ctx, span := m.tracer.Start(ctx, "gateway.route", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	p := m.plan(req)
	tracing.SetRouteAttributes(span, requestID, p.analysis.Type.String(), req.Model, entryNames(p.candidates))
	span.SetAttributes(attribute.Bool(tracing.AttrDegraded, p.degraded))

	decision := routing.RouteDecision{
		RequestID:            requestID,
		Analysis:             p.analysis,
		CandidatesConsidered: entryNames(p.candidates),
		SpecializedBinding:   p.specialized,
		Degraded:             p.degraded,
		Timestamp:            start,
	}
	defer func() { m.publishDecision(decision) }()

	if p.err != nil {
		tracing.SetStatus(span, p.err)
		logger.Warn("no provider available",
			zap.Stringer("request_type", p.analysis.Type),
			zap.Error(p.err),
		)
		return m.reject(requestID, p.analysis.Type, start, "", p.err)
	}

	if p.degraded {
		logger.Warn("routing to default provider in degraded mode",
			zap.String("provider", p.candidates[0].Name),
			zap.Stringer("request_type", p.analysis.Type),
		)
	}

	estimated := m.estimator.EstimateRequest(req)
	span.SetAttributes(attribute.Int(tracing.AttrTokens, estimated))

	selected, err := m.balancer.Select(p.candidates)
	if err != nil {
		tracing.SetStatus(span, err)
		return m.reject(requestID, p.analysis.Type, start, "", err)
	}
	entry := findEntry(p.candidates, selected)

	budget := m.RetryBudget()
	var (
		attempted []string
		lastErr   error
		last      metrics.RequestMetrics
	)

	for attempt := 1; ; attempt++ {
		attempted = append(attempted, entry.Name)

		resp, rec, err := m.attempt(ctx, requestID, p.analysis.Type, entry, req, attempt, estimated)
		if err == nil {
			m.collector.Record(rec)
			resp.Attempts = attempt
			resp.DurationMs = m.now().Sub(start).Milliseconds()
			decision.SelectedProvider = entry.Name
			tracing.SetStatus(span, nil)
			logger.Debug("request routed", zap.Any("decision", decision), zap.Int64("duration_ms", resp.DurationMs))
			return m.prettify(ctx, req, resp)
		}

		lastErr, last = err, rec
		decision.FallbackChain = append(decision.FallbackChain, routing.FallbackStep{
			Provider: entry.Name,
			Reason:   err.Error(),
		})

		// A cancelled caller is not the provider's fault.
		if ctx.Err() != nil {
			break
		}
		m.monitor.RecordFailure(entry.Name, err)

		if attempt > budget {
			break
		}
		pool := m.alternatives(p.analysis, attempted)
		next := m.failover.SelectFailover(entry.Name, pool)
		if next == "" {
			break
		}

		m.collector.RecordAttempt(rec)
		logger.Warn("failing over",
			zap.String("from", entry.Name),
			zap.String("to", next),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		tracing.AddEvent(span, "failover",
			attribute.String("from", entry.Name),
			attribute.String("to", next),
		)
		entry = findEntry(pool, next)
	}

	exhausted := &routing.RetryExhaustedError{AttemptedProviders: attempted, LastError: lastErr}
	last.ErrorKind = routing.ErrorCode(exhausted)
	m.collector.Record(last)

	tracing.SetStatus(span, exhausted)
	logger.Warn("request failed",
		zap.Strings("attempted", attempted),
		zap.Any("decision", decision),
		zap.Error(lastErr),
	)
	return m.failure(requestID, start, len(attempted), entry.Name, exhausted)
}

// RouteToProvider dispatches req to the named provider without failover.
func (m *Manager) RouteToProvider(ctx context.Context, name string, req *routing.Request) *routing.Response {
	ctx, requestID := m.requestContext(ctx)
	start := m.now()

	if !m.Initialized() {
		return m.reject(requestID, routing.RequestStandard, start, name, routing.ErrNotInitialized)
	}
	if err := validateRequest(req); err != nil {
		return m.reject(requestID, routing.RequestStandard, start, name, err)
	}

	analysis := m.classifier.Analyze(req)
	decision := routing.RouteDecision{
		RequestID:            requestID,
		Analysis:             analysis,
		CandidatesConsidered: []string{name},
		Timestamp:            start,
	}
	defer func() { m.publishDecision(decision) }()

	e, ok := m.registry.Get(name)
	if !ok {
		return m.reject(requestID, analysis.Type, start, name, m.notFound(name))
	}
	if !e.Routable() {
		err := fmt.Errorf("%w: %s", routing.ErrProviderUnhealthy, name)
		decision.FallbackChain = []routing.FallbackStep{{Provider: name, Reason: err.Error()}}
		return m.reject(requestID, analysis.Type, start, name, err)
	}

	ctx, span := m.tracer.Start(ctx, "gateway.route", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	tracing.SetRouteAttributes(span, requestID, analysis.Type.String(), req.Model, []string{name})

	resp, rec, err := m.attempt(ctx, requestID, analysis.Type, e, req, 1, m.estimator.EstimateRequest(req))
	m.collector.Record(rec)
	tracing.SetStatus(span, err)
	if err != nil {
		decision.FallbackChain = []routing.FallbackStep{{Provider: name, Reason: err.Error()}}
		if ctx.Err() == nil {
			m.monitor.RecordFailure(name, err)
		}
		return m.failure(requestID, start, 1, name, err)
	}
	decision.SelectedProvider = name
	resp.Attempts = 1
	resp.DurationMs = m.now().Sub(start).Milliseconds()
	return m.prettify(ctx, req, resp)
}

// attempt performs one dispatch and returns its metrics record; recording
// it is left to the caller, which knows whether the request ends here.
// Success is fed into the circuit breaker here; failures are left to the
// caller.
func (m *Manager) attempt(ctx context.Context, requestID string, requestType routing.RequestType, e providers.Entry, req *routing.Request, n, estimated int) (*routing.Response, metrics.RequestMetrics, error) {
	ctx, span := m.tracer.Start(ctx, "gateway.dispatch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	began := m.now()
	result, err := m.bridgeFor(e.Name).Dispatch(ctx, e, req)
	if err == nil && !result.Success {
		err = &routing.ProviderDispatchError{
			ProviderName: e.Name,
			StatusCode:   result.StatusCode,
			Message:      fmt.Sprintf("unsuccessful response (status %d)", result.StatusCode),
		}
	}
	elapsed := result.Duration
	if elapsed <= 0 {
		elapsed = m.now().Sub(began)
	}

	tracing.SetDispatchAttributes(span, e.Name, n, result.StatusCode)
	tracing.SetStatus(span, err)

	rec := metrics.RequestMetrics{
		RequestID:       requestID,
		ProviderName:    e.Name,
		RequestType:     requestType,
		DurationMs:      float64(elapsed) / float64(time.Millisecond),
		Success:         err == nil,
		StatusCode:      result.StatusCode,
		ErrorKind:       routing.ErrorCode(err),
		EstimatedTokens: estimated,
		Attempt:         n,
		Timestamp:       m.now(),
	}

	if err != nil {
		return nil, rec, err
	}

	m.monitor.RecordSuccess(e.Name)
	return &routing.Response{
		Success:      true,
		StatusCode:   result.StatusCode,
		ProviderName: e.Name,
		Data:         string(result.Body),
		RequestID:    requestID,
	}, rec, nil
}

// reject fails a request that never reached a provider and records it.
func (m *Manager) reject(requestID string, requestType routing.RequestType, start time.Time, provider string, err error) *routing.Response {
	resp := m.failure(requestID, start, 0, provider, err)
	m.collector.Record(metrics.RequestMetrics{
		RequestID:   requestID,
		RequestType: requestType,
		DurationMs:  float64(m.now().Sub(start)) / float64(time.Millisecond),
		StatusCode:  resp.StatusCode,
		ErrorKind:   resp.ErrorCode,
		Timestamp:   m.now(),
	})
	return resp
}

// prettify runs the post-processor on a successful response. Any failure
// of the post-processor returns the raw response.
func (m *Manager) prettify(ctx context.Context, req *routing.Request, resp *routing.Response) (out *routing.Response) {
	m.mu.RLock()
	p := m.prettifier
	m.mu.RUnlock()
	if p == nil {
		return resp
	}

	logger := logging.FromContext(ctx, m.logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("prettifier panicked", zap.String("provider", resp.ProviderName), zap.Any("panic", r))
			out = resp
		}
	}()

	raw := *resp
	pretty, err := p.Apply(ctx, resp.ProviderName, req, &raw)
	if err != nil || pretty == nil {
		logger.Warn("prettifier failed, returning raw response",
			zap.String("provider", resp.ProviderName),
			zap.Error(err),
		)
		return resp
	}

	pretty.Success = true
	pretty.ProviderName = resp.ProviderName
	pretty.RequestID = resp.RequestID
	pretty.Attempts = resp.Attempts
	pretty.DurationMs = resp.DurationMs
	pretty.Err = nil
	return pretty
}

// failure builds a failed response for err.
func (m *Manager) failure(requestID string, start time.Time, attempts int, provider string, err error) *routing.Response {
	code := routing.ErrorCode(err)
	return &routing.Response{
		Success:      false,
		StatusCode:   routing.StatusCode(err),
		ProviderName: provider,
		Data:         string(NewErrorBody(code, err.Error(), m.now())),
		ErrorMessage: err.Error(),
		ErrorCode:    code,
		RequestID:    requestID,
		DurationMs:   m.now().Sub(start).Milliseconds(),
		Attempts:     attempts,
		Err:          err,
	}
}

// requestContext returns ctx carrying a request ID, generating one when
// the caller did not supply it.
func (m *Manager) requestContext(ctx context.Context) (context.Context, string) {
	if id := logging.GetRequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return logging.WithRequestID(ctx, id), id
}

func validateRequest(req *routing.Request) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}
	return nil
}

func findEntry(entries []providers.Entry, name string) providers.Entry {
	for _, e := range entries {
		if e.Name == name {
			return e
		}
	}
	return providers.Entry{Name: name}
}

func entryNames(entries []providers.Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
