package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Readiness(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(c *Checker)
		status string
	}{
		{
			name:   "no checks",
			setup:  func(*Checker) {},
			status: StatusReady,
		},
		{
			name: "all healthy",
			setup: func(c *Checker) {
				c.Register("providers", true, func(context.Context) error { return nil })
				c.Register("storage", false, func(context.Context) error { return nil })
			},
			status: StatusReady,
		},
		{
			name: "non-critical failure degrades",
			setup: func(c *Checker) {
				c.Register("providers", true, func(context.Context) error { return nil })
				c.Register("storage", false, func(context.Context) error { return errors.New("locked") })
			},
			status: StatusDegraded,
		},
		{
			name: "critical failure",
			setup: func(c *Checker) {
				c.Register("providers", true, func(context.Context) error { return errors.New("none healthy") })
				c.Register("storage", false, func(context.Context) error { return errors.New("locked") })
			},
			status: StatusNotReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			tt.setup(c)
			report := c.Readiness(context.Background())
			assert.Equal(t, tt.status, report.Status)
			assert.Len(t, report.Checks, len(c.Names()))
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", true, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	report := c.Readiness(context.Background())
	assert.Equal(t, StatusNotReady, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["slow"].Status)
}

func TestChecker_RegisterUnregister(t *testing.T) {
	c := New(0)
	c.Register("b", false, func(context.Context) error { return nil })
	c.Register("a", false, func(context.Context) error { return nil })
	assert.Equal(t, []string{"a", "b"}, c.Names())

	c.Unregister("a")
	assert.Equal(t, []string{"b"}, c.Names())
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	c.Register("providers", true, func(context.Context) error { return errors.New("none healthy") })

	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "none healthy", report.Checks["providers"].Message)

	rec = httptest.NewRecorder()
	VersionHandler(NewVersionInfo("1.0.0", "abc", "today"))(rec, httptest.NewRequest(http.MethodHead, "/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRateLimited(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RateLimited(ok, 1)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.NotNil(t, RateLimited(ok, 0))
}
