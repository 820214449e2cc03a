package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffersonwarrior/aimux-sub000/internal/testutil"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/gateway"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/processing/tokens"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/storage"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/metrics"
)

const textBody = `{"model":"test-model","max_tokens":16,"messages":[{"role":"user","content":"hello"}]}`

func newTestManager(t *testing.T) (*gateway.Manager, *testutil.MockBridge) {
	t.Helper()

	bridge := testutil.NewMockBridge()
	m := gateway.New(
		gateway.WithBridge(bridge),
		gateway.WithProber(testutil.NewMockProber()),
		gateway.WithEstimator(tokens.NewSimpleEstimator()),
	)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	require.NoError(t, m.AddProvider("p1", testutil.ProviderConfig(100, 0)))
	require.NoError(t, m.SetDefaultProvider("p1"))
	return m, bridge
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *gateway.Manager, *testutil.MockBridge) {
	t.Helper()
	m, bridge := newTestManager(t)
	return New(config.ServerConfig{}, m, opts...), m, bridge
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) gateway.ErrorDetail {
	t.Helper()
	var body gateway.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestMessages(t *testing.T) {
	s, _, bridge := newTestServer(t)
	h := s.Handler()

	t.Run("success", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/messages", textBody)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"provider":"p1"}`, rec.Body.String())
		assert.Equal(t, "p1", rec.Header().Get(ProviderHeader))
		assert.Equal(t, "1", rec.Header().Get(AttemptsHeader))
		assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	})

	t.Run("request id is propagated", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/messages", textBody, RequestIDHeader, "req-123")
		assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/messages", `{"messages":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, routing.CodeInvalidRequest, decodeError(t, rec).Code)
	})

	t.Run("no messages", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/messages", `{"model":"m","messages":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, routing.CodeInvalidRequest, decodeError(t, rec).Code)
	})

	t.Run("explicit unknown provider", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/messages", textBody, ProviderHeader, "missing")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, routing.CodeProviderNotFound, decodeError(t, rec).Code)
	})

	t.Run("provider failure", func(t *testing.T) {
		bridge.Script("p1", testutil.Failure("p1", http.StatusInternalServerError))
		rec := do(t, h, http.MethodPost, "/v1/messages", textBody)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, routing.CodeRetryExhausted, decodeError(t, rec).Code)
	})
}

func TestMessages_BodyTooLarge(t *testing.T) {
	m, _ := newTestManager(t)
	s := New(config.ServerConfig{MaxBodyBytes: 32}, m)

	rec := do(t, s.Handler(), http.MethodPost, "/v1/messages", textBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	s, m, _ := newTestServer(t)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/version", "").Code)

	require.NoError(t, m.MarkUnhealthy("p1"))
	rec := do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/ready", "").Code)
}

func TestAdminEndpoints(t *testing.T) {
	s, m, _ := newTestServer(t)
	h := s.Handler()

	t.Run("config masks credentials", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/admin/config", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"default_provider":"p1"`)
		assert.NotContains(t, rec.Body.String(), "test-key-0123456789")
	})

	t.Run("metrics", func(t *testing.T) {
		do(t, h, http.MethodPost, "/v1/messages", textBody)
		rec := do(t, h, http.MethodGet, "/admin/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var snap gateway.MetricsSnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, 1, snap.TotalProviders)
		assert.GreaterOrEqual(t, snap.TotalRequests, int64(1))
	})

	t.Run("recent", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/admin/metrics/recent?n=1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Requests []metrics.RequestMetrics `json:"requests"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Requests, 1)

		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/admin/metrics/recent?n=x", "").Code)
	})

	t.Run("errors", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/admin/errors", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "no thinking provider configured")
	})

	t.Run("providers by capability", func(t *testing.T) {
		require.NoError(t, m.AddProvider("seer", testutil.ProviderConfig(100, config.FlagVision)))
		rec := do(t, h, http.MethodGet, "/admin/providers?capability=vision", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"capability":"vision","providers":["seer"]}`, rec.Body.String())
	})

	t.Run("mark unhealthy and healthy", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/admin/providers/p1/unhealthy", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"UNHEALTHY"`)

		rec = do(t, h, http.MethodPost, "/admin/providers/p1/healthy", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"HEALTHY"`)

		rec = do(t, h, http.MethodPost, "/admin/providers/ghost/healthy", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("debug route", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/admin/debug/route", textBody)
		require.Equal(t, http.StatusOK, rec.Code)

		var debug gateway.RoutingDebug
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &debug))
		assert.NotEmpty(t, debug.Candidates)
		assert.NotEmpty(t, debug.WouldSelect)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	m, _ := newTestManager(t)
	exporter := metrics.NewExporter("aimux", nil, m.Collector())
	t.Cleanup(exporter.Close)

	h := New(config.ServerConfig{}, m, WithExporter(exporter, "")).Handler()
	do(t, h, http.MethodPost, "/v1/messages", textBody)

	assert.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, "/metrics", "")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), "aimux_gateway_requests_total")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSnapshotEndpoints(t *testing.T) {
	m, _ := newTestManager(t)
	store := storage.NewMemoryStore()
	scheduler := storage.NewScheduler(store, m, storage.SchedulerConfig{}, nil)
	h := New(config.ServerConfig{}, m, WithSnapshots(store, scheduler)).Handler()

	rec := do(t, h, http.MethodGet, "/admin/snapshots/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/snapshots", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created storage.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "manual", created.Reason)
	assert.Equal(t, 1, created.TotalProviders)

	rec = do(t, h, http.MethodGet, "/admin/snapshots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	rec = do(t, h, http.MethodGet, "/admin/snapshots/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "test-key-0123456789")

	rec = do(t, h, http.MethodGet, "/admin/snapshots/latest", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSnapshotRoutesDisabled(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/admin/snapshots", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStream(t *testing.T) {
	s, m, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered just after the upgrade, so keep
	// routing until the first event arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "dispatch", ev.Type)
	assert.Equal(t, "p1", ev.Data.ProviderName)
	assert.True(t, ev.Data.Success)
	assert.True(t, ev.Data.Final)
}

func TestRecovery(t *testing.T) {
	h := Recovery(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s, _, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	require.Eventually(t, s.IsRunning, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, s.IsRunning())
}

func TestAdminAuth(t *testing.T) {
	m, _ := newTestManager(t)
	s := New(config.ServerConfig{
		AdminKeys: map[string]string{"ops": "ops-key-0123456789"},
	}, m)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/admin/config", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)

	rec = do(t, h, http.MethodGet, "/admin/config", "", "Authorization", "Bearer wrong-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/admin/config", "", "Authorization", "Bearer ops-key-0123456789")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/providers/p1/unhealthy", "", "X-Aimux-Admin-Key", "ops-key-0123456789")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The public surface stays open.
	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
