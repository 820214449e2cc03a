// Package bridge dispatches gateway requests to providers over HTTP.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/tracing"
)

const (
	// DefaultAnthropicVersion is the Messages API version sent upstream.
	DefaultAnthropicVersion = "2023-06-01"

	messagesPath = "/v1/messages"

	// maxErrorExcerpt bounds the upstream body quoted in error messages.
	maxErrorExcerpt = 512
)

// HTTP is an Anthropic Messages API client shared by every provider.
//
// Each provider gets its own concurrency cap (MaxConcurrentRequests) and,
// when RequestsPerSecond is set, a token bucket. Both wait on the caller's
// context so a cancelled request never occupies a slot.
type HTTP struct {
	client       *http.Client
	logger       *zap.Logger
	maxBodyBytes int64

	mu     sync.Mutex
	limits map[string]*providerLimits
}

type providerLimits struct {
	maxConcurrent int
	rps           float64
	slots         chan struct{}
	limiter       *rate.Limiter
}

// Option configures an HTTP bridge.
type Option func(*HTTP)

// WithClient replaces the HTTP client.
func WithClient(client *http.Client) Option {
	return func(b *HTTP) {
		if client != nil {
			b.client = client
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *HTTP) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMaxBodyBytes bounds how much of an upstream response is read.
func WithMaxBodyBytes(n int64) Option {
	return func(b *HTTP) {
		if n > 0 {
			b.maxBodyBytes = n
		}
	}
}

// New creates an HTTP bridge with connection pooling.
func New(opts ...Option) *HTTP {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	b := &HTTP{
		client:       &http.Client{Transport: transport},
		logger:       zap.NewNop(),
		maxBodyBytes: config.DefaultMaxBodyBytes,
		limits:       make(map[string]*providerLimits),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dispatch sends req to the provider described by e. A non-2xx response
// returns both the result and a *routing.ProviderDispatchError.
func (b *HTTP) Dispatch(ctx context.Context, e providers.Entry, req *routing.Request) (providers.DispatchResult, error) {
	start := time.Now()

	lim := b.limitsFor(e)
	release, err := lim.acquire(ctx)
	if err != nil {
		return providers.DispatchResult{Duration: time.Since(start)},
			&routing.ProviderDispatchError{ProviderName: e.Name, Message: "waiting for capacity", Err: err}
	}
	defer release()

	if e.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Limits.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(upstreamRequest(e, req))
	if err != nil {
		return providers.DispatchResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(e.BaseURL, messagesPath), bytes.NewReader(body))
	if err != nil {
		return providers.DispatchResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(httpReq.Header, e.APIKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	tracing.Inject(ctx, httpReq.Header)

	b.logger.Debug("sending request to provider",
		zap.String("provider", e.Name),
		zap.String("model", req.Model),
	)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return providers.DispatchResult{Duration: time.Since(start)},
			&routing.ProviderDispatchError{ProviderName: e.Name, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBodyBytes))
	result := providers.DispatchResult{
		Body:       data,
		StatusCode: resp.StatusCode,
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		Duration:   time.Since(start),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	if err != nil {
		result.Success = false
		return result, &routing.ProviderDispatchError{ProviderName: e.Name, StatusCode: resp.StatusCode, Message: "reading response", Err: err}
	}
	if !result.Success {
		return result, &routing.ProviderDispatchError{
			ProviderName: e.Name,
			StatusCode:   resp.StatusCode,
			Message:      excerpt(data),
		}
	}
	return result, nil
}

// upstreamRequest pins the model to one the provider serves.
func upstreamRequest(e providers.Entry, req *routing.Request) *routing.Request {
	if len(e.Models) == 0 || slices.Contains(e.Models, req.Model) {
		return req
	}
	out := *req
	out.Model = e.Models[0]
	return &out
}

func setHeaders(h http.Header, apiKey string) {
	h.Set("Content-Type", "application/json")
	h.Set("anthropic-version", DefaultAnthropicVersion)
	if apiKey != "" {
		h.Set("x-api-key", apiKey)
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

func endpoint(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(path, "/v1/") {
		path = strings.TrimPrefix(path, "/v1")
	}
	return base + path
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorExcerpt {
		s = s[:maxErrorExcerpt] + "..."
	}
	return s
}

// limitsFor returns the limiter set of e, rebuilding it when the
// configured limits changed.
func (b *HTTP) limitsFor(e providers.Entry) *providerLimits {
	b.mu.Lock()
	defer b.mu.Unlock()

	lim, ok := b.limits[e.Name]
	if ok && lim.maxConcurrent == e.Limits.MaxConcurrentRequests && lim.rps == e.Limits.RequestsPerSecond {
		return lim
	}

	lim = &providerLimits{
		maxConcurrent: e.Limits.MaxConcurrentRequests,
		rps:           e.Limits.RequestsPerSecond,
	}
	if lim.maxConcurrent > 0 {
		lim.slots = make(chan struct{}, lim.maxConcurrent)
	}
	if lim.rps > 0 {
		burst := int(lim.rps)
		if burst < 1 {
			burst = 1
		}
		lim.limiter = rate.NewLimiter(rate.Limit(lim.rps), burst)
	}
	b.limits[e.Name] = lim
	return lim
}

// Forget drops the limiter state of a removed provider.
func (b *HTTP) Forget(name string) {
	b.mu.Lock()
	delete(b.limits, name)
	b.mu.Unlock()
}

// InFlight returns the number of dispatches currently holding a slot for name.
func (b *HTTP) InFlight(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lim, ok := b.limits[name]; ok && lim.slots != nil {
		return len(lim.slots)
	}
	return 0
}

func (l *providerLimits) acquire(ctx context.Context) (func(), error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if l.slots == nil {
		return func() {}, nil
	}
	select {
	case l.slots <- struct{}{}:
		return func() { <-l.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases idle connections.
func (b *HTTP) Close() {
	b.client.CloseIdleConnections()
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
