package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// RequestMetrics is the record of one dispatch attempt or of a request
// rejected before dispatch. Final is set on the record that ended its
// request; every request has exactly one.
type RequestMetrics struct {
	RequestID       string              `json:"request_id"`
	ProviderName    string              `json:"provider_name"`
	RequestType     routing.RequestType `json:"request_type"`
	DurationMs      float64             `json:"duration_ms"`
	Success         bool                `json:"success"`
	StatusCode      int                 `json:"status_code"`
	ErrorKind       string              `json:"error_kind,omitempty"`
	EstimatedTokens int                 `json:"estimated_tokens,omitempty"`
	Attempt         int                 `json:"attempt"`
	Final           bool                `json:"final"`
	Timestamp       time.Time           `json:"timestamp"`
}

// Failover reports whether the record belongs to a retry after a failed attempt.
func (m RequestMetrics) Failover() bool {
	return m.Attempt > 1
}

// Aggregate summarizes everything recorded since the last Clear. Request
// totals count final records only; Failovers and the average response time
// include every attempt.
type Aggregate struct {
	TotalRequests        int64   `json:"total_requests"`
	SuccessCount         int64   `json:"successful_requests"`
	FailureCount         int64   `json:"failed_requests"`
	SuccessRate          float64 `json:"success_rate"`
	AvgResponseTimeMs    float64 `json:"avg_response_time_ms"`
	Failovers            int64   `json:"failovers"`
	DroppedEvents        int64   `json:"dropped_events"`
	HealthyProviderCount int     `json:"healthy_providers"`
}

// ProviderStats summarizes the records of one provider.
type ProviderStats struct {
	Requests          int64     `json:"requests"`
	Successes         int64     `json:"successes"`
	Failures          int64     `json:"failures"`
	SuccessRate       float64   `json:"success_rate"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	LastStatusCode    int       `json:"last_status_code"`
	LastSeen          time.Time `json:"last_seen"`

	totalDurationMs float64
}

// Observer receives every recorded request.
type Observer interface {
	OnRequest(RequestMetrics)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(RequestMetrics)

// OnRequest calls f.
func (f ObserverFunc) OnRequest(m RequestMetrics) {
	f(m)
}

// Collector aggregates request metrics in memory.
//
// Counters are atomic so no increment is lost under concurrent Record
// calls. The last records are kept in a bounded ring for Recent. Observers
// are decoupled from Record through a buffered channel each; when an
// observer falls behind its events are dropped and counted, never blocking
// the caller.
type Collector struct {
	total           atomic.Int64
	success         atomic.Int64
	failovers       atomic.Int64
	dropped         atomic.Int64
	totalDurationUs atomic.Int64

	mu          sync.Mutex
	ring        []RequestMetrics
	next        int
	size        int
	perProvider map[string]*ProviderStats

	healthyCount func() int
	bufferSize   int

	subsMu sync.RWMutex
	subs   map[*Subscription]struct{}
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithHistory sets how many records Recent can return.
func WithHistory(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.ring = make([]RequestMetrics, n)
		}
	}
}

// WithEventBuffer sets the per-subscriber channel capacity.
func WithEventBuffer(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithHealthSource sets the function reporting the number of healthy providers.
func WithHealthSource(fn func() int) CollectorOption {
	return func(c *Collector) {
		c.healthyCount = fn
	}
}

// NewCollector creates an empty collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		ring:        make([]RequestMetrics, config.DefaultMetricsHistory),
		perProvider: make(map[string]*ProviderStats),
		bufferSize:  config.DefaultEventBuffer,
		subs:        make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record adds the record that ended a request and fans it out to
// subscribers. It counts towards the request totals.
func (c *Collector) Record(m RequestMetrics) {
	m.Final = true
	c.record(m)
}

// RecordAttempt adds a dispatch attempt that was followed by a failover.
// It updates provider statistics and history but counts no request.
func (c *Collector) RecordAttempt(m RequestMetrics) {
	m.Final = false
	c.record(m)
}

func (c *Collector) record(m RequestMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	if m.Final {
		c.total.Add(1)
		if m.Success {
			c.success.Add(1)
		}
	}
	if m.Failover() {
		c.failovers.Add(1)
	}
	c.totalDurationUs.Add(int64(m.DurationMs * 1000))

	c.mu.Lock()
	c.ring[c.next] = m
	c.next = (c.next + 1) % len(c.ring)
	if c.size < len(c.ring) {
		c.size++
	}
	if m.ProviderName != "" {
		stats, ok := c.perProvider[m.ProviderName]
		if !ok {
			stats = &ProviderStats{}
			c.perProvider[m.ProviderName] = stats
		}
		stats.add(m)
	}
	c.mu.Unlock()

	c.publish(m)
}

func (s *ProviderStats) add(m RequestMetrics) {
	s.Requests++
	if m.Success {
		s.Successes++
	} else {
		s.Failures++
	}
	s.totalDurationMs += m.DurationMs
	s.AvgResponseTimeMs = s.totalDurationMs / float64(s.Requests)
	s.SuccessRate = float64(s.Successes) / float64(s.Requests)
	s.LastStatusCode = m.StatusCode
	s.LastSeen = m.Timestamp
}

// Aggregate returns the totals recorded so far.
func (c *Collector) Aggregate() Aggregate {
	agg := Aggregate{
		TotalRequests: c.total.Load(),
		SuccessCount:  c.success.Load(),
		Failovers:     c.failovers.Load(),
		DroppedEvents: c.dropped.Load(),
	}
	agg.FailureCount = agg.TotalRequests - agg.SuccessCount
	if agg.TotalRequests > 0 {
		agg.SuccessRate = float64(agg.SuccessCount) / float64(agg.TotalRequests)
		agg.AvgResponseTimeMs = float64(c.totalDurationUs.Load()) / 1000 / float64(agg.TotalRequests)
	}
	if c.healthyCount != nil {
		agg.HealthyProviderCount = c.healthyCount()
	}
	return agg
}

// ProviderStats returns per-provider summaries keyed by provider name.
func (c *Collector) ProviderStats() map[string]ProviderStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]ProviderStats, len(c.perProvider))
	for name, s := range c.perProvider {
		out[name] = *s
	}
	return out
}

// Recent returns up to n of the most recent records, oldest first. A
// non-positive n returns the whole history.
func (c *Collector) Recent(n int) []RequestMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 || n > c.size {
		n = c.size
	}
	out := make([]RequestMetrics, n)
	start := (c.next - n + len(c.ring)) % len(c.ring)
	for i := 0; i < n; i++ {
		out[i] = c.ring[(start+i)%len(c.ring)]
	}
	return out
}

// Clear resets all counters and history. Subscriptions stay active.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total.Store(0)
	c.success.Store(0)
	c.failovers.Store(0)
	c.dropped.Store(0)
	c.totalDurationUs.Store(0)

	clear(c.ring)
	c.next, c.size = 0, 0
	c.perProvider = make(map[string]*ProviderStats)
}

// ProvidersSeen returns the names of providers with at least one record, sorted.
func (c *Collector) ProvidersSeen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.perProvider))
	for name := range c.perProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
