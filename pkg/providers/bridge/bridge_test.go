package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

func entryFor(url string) providers.Entry {
	return providers.Entry{
		Name:    "test",
		BaseURL: url,
		APIKey:  "sk-test-key",
		Models:  []string{"model-a", "model-b"},
		Enabled: true,
		Limits:  providers.Limits{MaxConcurrentRequests: 10, Timeout: 5 * time.Second},
	}
}

func textRequest(model string) *routing.Request {
	return &routing.Request{
		Model:     model,
		MaxTokens: 16,
		Messages:  []routing.Message{{Role: "user", Content: routing.TextContent("hi")}},
	}
}

func TestHTTP_DispatchSuccess(t *testing.T) {
	var got routing.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, DefaultAnthropicVersion, r.Header.Get("anthropic-version"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"hello"}]}`))
	}))
	defer server.Close()

	b := New()
	res, err := b.Dispatch(context.Background(), entryFor(server.URL), textRequest("unknown-model"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(res.Body), "msg_1")
	assert.Equal(t, "model-a", got.Model, "unknown model is pinned to the provider's first model")
}

func TestHTTP_DispatchKeepsServedModel(t *testing.T) {
	var model string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req routing.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		model = req.Model
	}))
	defer server.Close()

	req := textRequest("model-b")
	_, err := New().Dispatch(context.Background(), entryFor(server.URL+"/v1/"), req)
	require.NoError(t, err)
	assert.Equal(t, "model-b", model)
	assert.Equal(t, "model-b", req.Model)
}

func TestHTTP_DispatchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	res, err := New().Dispatch(context.Background(), entryFor(server.URL), textRequest("model-a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, routing.ErrProviderDispatch))

	var dispatchErr *routing.ProviderDispatchError
	require.True(t, errors.As(err, &dispatchErr))
	assert.Equal(t, http.StatusTooManyRequests, dispatchErr.StatusCode)
	assert.Contains(t, dispatchErr.Message, "slow down")
	assert.False(t, res.Success)
	assert.Equal(t, 7*time.Second, res.RetryAfter)
}

func TestHTTP_DispatchTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	res, err := New().Dispatch(context.Background(), entryFor(url), textRequest("model-a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, routing.ErrProviderDispatch))
	assert.Zero(t, res.StatusCode)
}

func TestHTTP_DispatchHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New().Dispatch(ctx, entryFor(server.URL), textRequest("model-a"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTP_ConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
	}))
	defer server.Close()

	e := entryFor(server.URL)
	e.Limits.MaxConcurrentRequests = 2
	b := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Dispatch(context.Background(), e, textRequest("model-a"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Zero(t, b.InFlight("test"))
}

func TestHTTP_Probe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	e := entryFor(server.URL)
	e.HealthPath = "/v1/models"
	b := New()

	assert.NoError(t, b.Probe(context.Background(), e))

	status.Store(http.StatusBadGateway)
	assert.Error(t, b.Probe(context.Background(), e))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	assert.InDelta(t, time.Minute.Seconds(), parseRetryAfter(future).Seconds(), 2)
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1/messages", endpoint("https://api.example.com/", messagesPath))
	assert.Equal(t, "https://api.example.com/v1/messages", endpoint("https://api.example.com/v1", messagesPath))
	assert.Equal(t, "https://api.example.com", endpoint("https://api.example.com", ""))
}
