package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffersonwarrior/aimux-sub000/internal/testutil"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/processing/tokens"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing/strategies"
)

// firstCandidate always picks the first candidate, making failover order
// predictable.
type firstCandidate struct{}

func (firstCandidate) Name() string { return "first" }

func (firstCandidate) Select(candidates []providers.Entry) (string, error) {
	if len(candidates) == 0 {
		return "", routing.ErrNoCandidates
	}
	return candidates[0].Name, nil
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testutil.MockBridge) {
	t.Helper()

	bridge := testutil.NewMockBridge()
	base := []Option{
		WithBridge(bridge),
		WithProber(testutil.NewMockProber()),
		WithBalancer(strategies.NewSeededWeightedRandom(42)),
		WithEstimator(tokens.NewSimpleEstimator()),
	}
	m := New(append(base, opts...)...)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})
	return m, bridge
}

func addProviders(t *testing.T, m *Manager, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, m.AddProvider(name, testutil.ProviderConfig(100, 0)))
	}
}

func TestManager_NotInitialized(t *testing.T) {
	m := New(WithBridge(testutil.NewMockBridge()))
	addProviders(t, m, "p1")

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, routing.CodeNotInitialized, resp.ErrorCode)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.ErrorIs(t, resp.Err, routing.ErrNotInitialized)
	assert.NotEmpty(t, resp.RequestID)
}

func TestManager_ShutdownRejectsRequests(t *testing.T) {
	m, _ := newTestManager(t)
	addProviders(t, m, "p1")

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	assert.Equal(t, routing.CodeNotInitialized, resp.ErrorCode)
}

func TestManager_AddProviderValidation(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		mutate   func(*config.ProviderConfig)
	}{
		{
			name:     "missing base url",
			provider: "p1",
			mutate:   func(pc *config.ProviderConfig) { pc.BaseURL = "" },
		},
		{
			name:     "missing api key",
			provider: "p1",
			mutate:   func(pc *config.ProviderConfig) { pc.APIKey = "" },
		},
		{
			name:     "invalid name",
			provider: "bad name!",
			mutate:   func(*config.ProviderConfig) {},
		},
		{
			name:     "capability flags out of range",
			provider: "p1",
			mutate:   func(pc *config.ProviderConfig) { pc.CapabilityFlags = 64 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t)
			pc := testutil.ProviderConfig(100, 0)
			tt.mutate(&pc)

			err := m.AddProvider(tt.provider, pc)

			require.Error(t, err)
			assert.ErrorIs(t, err, routing.ErrConfiguration)
			var cfgErr *routing.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.provider, cfgErr.Provider)
			assert.Empty(t, m.Configuration().Providers)
		})
	}
}

func TestManager_DisabledProviderWithoutCredential(t *testing.T) {
	m, _ := newTestManager(t)
	disabled := false
	pc := testutil.ProviderConfig(100, 0)
	pc.APIKey = ""
	pc.Enabled = &disabled

	require.NoError(t, m.AddProvider("p1", pc))

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	assert.Equal(t, routing.CodeNoHealthyProvider, resp.ErrorCode)
}

func TestManager_SetBindings(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AddProvider("plain", testutil.ProviderConfig(100, 0)))
	require.NoError(t, m.AddProvider("eyes", testutil.ProviderConfig(100, config.FlagVision)))

	t.Run("unknown provider", func(t *testing.T) {
		for _, set := range []func(string) error{
			m.SetDefaultProvider, m.SetThinkingProvider, m.SetVisionProvider, m.SetToolsProvider,
		} {
			err := set("missing")
			assert.ErrorIs(t, err, routing.ErrProviderNotFound)
		}
	})

	t.Run("capability mismatch", func(t *testing.T) {
		err := m.SetVisionProvider("plain")
		assert.ErrorIs(t, err, routing.ErrCapabilityMismatch)

		var mismatch *routing.CapabilityMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, routing.CapabilityVision, mismatch.Required)
	})

	t.Run("valid bindings", func(t *testing.T) {
		require.NoError(t, m.SetVisionProvider("eyes"))
		require.NoError(t, m.SetDefaultProvider("plain"))

		b := m.Bindings()
		assert.Equal(t, "eyes", b.Vision)
		assert.Equal(t, "plain", b.Default)
	})

	t.Run("empty name clears", func(t *testing.T) {
		require.NoError(t, m.SetVisionProvider(""))
		assert.Empty(t, m.Bindings().Vision)
	})
}

func TestManager_ScenarioA_SingleProvider(t *testing.T) {
	m, bridge := newTestManager(t)
	addProviders(t, m, "p1")

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, "p1", resp.ProviderName)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.JSONEq(t, `{"provider":"p1"}`, resp.Data)
	assert.Equal(t, 1, bridge.Calls("p1"))
}

func TestManager_ScenarioB_PriorityWeighting(t *testing.T) {
	m, bridge := newTestManager(t)
	require.NoError(t, m.AddProvider("p1", testutil.ProviderConfig(90, 0)))
	require.NoError(t, m.AddProvider("p2", testutil.ProviderConfig(10, 0)))

	const requests = 1000
	for i := 0; i < requests; i++ {
		resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
		require.True(t, resp.Success)
	}

	p1, p2 := bridge.Calls("p1"), bridge.Calls("p2")
	assert.Equal(t, requests, p1+p2)
	assert.Greater(t, p1, 3*p2, "p1=%d p2=%d", p1, p2)
	assert.Greater(t, p2, 0, "lower priority provider should still be selected")
}

func TestManager_ScenarioC_CircuitOpens(t *testing.T) {
	m, bridge := newTestManager(t)
	pc := testutil.ProviderConfig(100, 0)
	pc.MaxFailures = 5
	require.NoError(t, m.AddProvider("p1", pc))
	bridge.Always("p1", testutil.Failure("p1", http.StatusInternalServerError))

	for i := 0; i < 5; i++ {
		resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
		require.False(t, resp.Success)
		assert.Equal(t, routing.CodeRetryExhausted, resp.ErrorCode)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err, routing.ErrNoHealthyProvider)
	assert.Equal(t, routing.CodeNoHealthyProvider, resp.ErrorCode)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 5, bridge.Calls("p1"))

	snap := m.Metrics()
	assert.Equal(t, 1, snap.UnhealthyProviders)
	assert.Equal(t, providers.HealthUnhealthy, snap.ProviderHealth["p1"].State)
	assert.Equal(t, 5, snap.ProviderHealth["p1"].FailureCount)
}

func TestManager_ScenarioD_VisionWithoutVisionProvider(t *testing.T) {
	t.Run("degraded default", func(t *testing.T) {
		m, bridge := newTestManager(t)
		addProviders(t, m, "p1")
		require.NoError(t, m.SetDefaultProvider("p1"))

		resp := m.RouteRequest(context.Background(), testutil.VisionRequest())

		require.True(t, resp.Success, resp.ErrorMessage)
		assert.Equal(t, "p1", resp.ProviderName)
		assert.Equal(t, 1, bridge.Calls("p1"))

		debug := m.DebugRoutingDecision(testutil.VisionRequest())
		assert.True(t, debug.Degraded)
		assert.Equal(t, routing.RequestVision, debug.Analysis.Type)
	})

	t.Run("no default", func(t *testing.T) {
		m, bridge := newTestManager(t)
		addProviders(t, m, "p1")

		resp := m.RouteRequest(context.Background(), testutil.VisionRequest())

		assert.False(t, resp.Success)
		assert.Equal(t, routing.CodeNoHealthyProvider, resp.ErrorCode)
		assert.Contains(t, resp.ErrorMessage, "vision")
		assert.Zero(t, bridge.TotalCalls())

		var noHealthy *routing.NoHealthyProviderError
		require.ErrorAs(t, resp.Err, &noHealthy)
		assert.Equal(t, routing.RequestVision, noHealthy.RequestType)
	})

	t.Run("unhealthy default", func(t *testing.T) {
		m, _ := newTestManager(t)
		addProviders(t, m, "p1")
		require.NoError(t, m.SetDefaultProvider("p1"))
		require.NoError(t, m.MarkUnhealthy("p1"))

		resp := m.RouteRequest(context.Background(), testutil.VisionRequest())

		assert.Equal(t, routing.CodeNoHealthyProvider, resp.ErrorCode)
		assert.Contains(t, resp.ErrorMessage, `default provider "p1" unavailable`)
	})
}

func TestManager_SpecializedBindingTakesPrecedence(t *testing.T) {
	m, bridge := newTestManager(t)
	require.NoError(t, m.AddProvider("big", testutil.ProviderConfig(1000, config.FlagVision)))
	require.NoError(t, m.AddProvider("bound", testutil.ProviderConfig(1, config.FlagVision)))
	require.NoError(t, m.SetVisionProvider("bound"))

	for i := 0; i < 20; i++ {
		resp := m.RouteRequest(context.Background(), testutil.VisionRequest())
		require.True(t, resp.Success)
		assert.Equal(t, "bound", resp.ProviderName)
	}
	assert.Zero(t, bridge.Calls("big"))

	// Standard requests are not affected by the binding.
	debug := m.DebugRoutingDecision(testutil.TextRequest("hello"))
	assert.False(t, debug.SpecializedBinding)
	assert.ElementsMatch(t, []string{"big", "bound"}, debug.Candidates)
}

func TestManager_UnhealthySpecializedBindingFallsBack(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AddProvider("tools-a", testutil.ProviderConfig(100, config.FlagTools)))
	require.NoError(t, m.AddProvider("tools-b", testutil.ProviderConfig(100, config.FlagFunctionCalling)))
	require.NoError(t, m.AddProvider("plain", testutil.ProviderConfig(100, 0)))
	require.NoError(t, m.SetToolsProvider("tools-a"))
	require.NoError(t, m.MarkUnhealthy("tools-a"))

	resp := m.RouteRequest(context.Background(), testutil.ToolsRequest())

	require.True(t, resp.Success)
	assert.Equal(t, "tools-b", resp.ProviderName)
}

func TestManager_Failover(t *testing.T) {
	m, bridge := newTestManager(t, WithBalancer(firstCandidate{}))
	addProviders(t, m, "p1", "p2", "p3")
	bridge.Script("p1", testutil.Failure("p1", http.StatusServiceUnavailable))

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, "p2", resp.ProviderName)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, []string{"p1", "p2"}, bridge.Order())

	snap := m.Metrics()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(1), snap.Failovers)
	assert.Equal(t, 1, snap.ProviderHealth["p1"].FailureCount)
	assert.Equal(t, int64(1), snap.PerProvider["p1"].Failures)
	assert.Equal(t, int64(1), snap.PerProvider["p2"].Successes)
}

func TestManager_FailoverFromSpecializedBinding(t *testing.T) {
	m, bridge := newTestManager(t, WithBalancer(firstCandidate{}))
	require.NoError(t, m.AddProvider("eyes-a", testutil.ProviderConfig(100, config.FlagVision)))
	require.NoError(t, m.AddProvider("eyes-b", testutil.ProviderConfig(100, config.FlagVision)))
	require.NoError(t, m.AddProvider("plain", testutil.ProviderConfig(100, 0)))
	require.NoError(t, m.SetVisionProvider("eyes-b"))
	bridge.Script("eyes-b", testutil.Failure("eyes-b", http.StatusBadGateway))

	resp := m.RouteRequest(context.Background(), testutil.VisionRequest())

	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, "eyes-a", resp.ProviderName)
	assert.Zero(t, bridge.Calls("plain"))
}

func TestManager_RetryBudget(t *testing.T) {
	tests := []struct {
		name     string
		budget   int
		attempts int
	}{
		{name: "default budget", budget: config.DefaultRetryBudget, attempts: 3},
		{name: "no retries", budget: 0, attempts: 1},
		{name: "budget larger than pool", budget: 10, attempts: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, bridge := newTestManager(t, WithRetryBudget(tt.budget))
			names := []string{"p1", "p2", "p3", "p4"}
			addProviders(t, m, names...)
			for _, name := range names {
				bridge.Always(name, testutil.Failure(name, http.StatusInternalServerError))
			}

			resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

			assert.False(t, resp.Success)
			assert.Equal(t, routing.CodeRetryExhausted, resp.ErrorCode)
			assert.Equal(t, tt.attempts, resp.Attempts)
			assert.Equal(t, tt.attempts, bridge.TotalCalls())

			var exhausted *routing.RetryExhaustedError
			require.ErrorAs(t, resp.Err, &exhausted)
			assert.Len(t, exhausted.AttemptedProviders, tt.attempts)
			assert.ErrorIs(t, resp.Err, routing.ErrProviderDispatch)

			seen := make(map[string]bool)
			for _, name := range exhausted.AttemptedProviders {
				assert.False(t, seen[name], "provider %s attempted twice", name)
				seen[name] = true
			}
		})
	}
}

func TestManager_UnsuccessfulResultWithoutError(t *testing.T) {
	m, bridge := newTestManager(t, WithRetryBudget(0))
	addProviders(t, m, "p1")
	bridge.Script("p1", testutil.Outcome{Result: providers.DispatchResult{StatusCode: http.StatusTooManyRequests}})

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

	assert.False(t, resp.Success)
	var dispatchErr *routing.ProviderDispatchError
	require.ErrorAs(t, resp.Err, &dispatchErr)
	assert.Equal(t, http.StatusTooManyRequests, dispatchErr.StatusCode)
}

func TestManager_CancelledRequestDoesNotCountAgainstProvider(t *testing.T) {
	m, bridge := newTestManager(t)
	addProviders(t, m, "p1", "p2")
	bridge.SetDelay(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := m.RouteRequest(ctx, testutil.TextRequest("hello"))

	assert.False(t, resp.Success)
	assert.Equal(t, 1, bridge.TotalCalls())
	for _, health := range m.Metrics().ProviderHealth {
		assert.Zero(t, health.FailureCount)
	}
}

func TestManager_MetricsAccuracy(t *testing.T) {
	m, bridge := newTestManager(t, WithRetryBudget(0))
	addProviders(t, m, "p1")

	ok := testutil.Success(`{}`)
	fail := testutil.Failure("p1", http.StatusInternalServerError)
	bridge.Script("p1", ok, fail, ok, ok, fail, ok, ok, fail, ok, ok)

	successes := 0
	for i := 0; i < 10; i++ {
		if m.RouteRequest(context.Background(), testutil.TextRequest("hello")).Success {
			successes++
		}
	}

	snap := m.Metrics()
	assert.Equal(t, 7, successes)
	assert.Equal(t, int64(10), snap.TotalRequests)
	assert.Equal(t, int64(7), snap.SuccessfulRequests)
	assert.Equal(t, int64(3), snap.FailedRequests)
	assert.InDelta(t, 0.7, snap.SuccessRate, 1e-9)
	assert.Equal(t, 1, snap.HealthyProviders)
	assert.Len(t, m.Collector().Recent(0), 10)
}

func TestManager_MetricsCountRequestsNotAttempts(t *testing.T) {
	m, bridge := newTestManager(t, WithBalancer(firstCandidate{}))
	addProviders(t, m, "p1", "p2")
	bridge.Script("p1", testutil.Failure("p1", http.StatusInternalServerError))

	first := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.True(t, first.Success, first.ErrorMessage)
	assert.Equal(t, "p2", first.ProviderName)
	second := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.True(t, second.Success, second.ErrorMessage)

	snap := m.Metrics()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.SuccessfulRequests)
	assert.InDelta(t, 1.0, snap.SuccessRate, 1e-9)
	assert.Equal(t, int64(1), snap.Failovers)
	assert.Equal(t, int64(1), snap.PerProvider["p1"].Failures)
	assert.Len(t, m.Collector().Recent(0), 3)

	// Requests rejected before any dispatch still count.
	require.NoError(t, m.MarkUnhealthy("p1"))
	require.NoError(t, m.MarkUnhealthy("p2"))
	rejected := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	assert.Equal(t, routing.CodeNoHealthyProvider, rejected.ErrorCode)

	snap = m.Metrics()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.SuccessfulRequests)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 1e-9)
	assert.Equal(t, 3, bridge.TotalCalls())

	last := m.Collector().Recent(1)
	require.Len(t, last, 1)
	assert.True(t, last[0].Final)
	assert.Empty(t, last[0].ProviderName)
	assert.Equal(t, routing.CodeNoHealthyProvider, last[0].ErrorKind)
}

func TestManager_MetricsExhaustedRequestCountsOnce(t *testing.T) {
	m, bridge := newTestManager(t, WithBalancer(firstCandidate{}))
	addProviders(t, m, "p1", "p2")
	bridge.Always("p1", testutil.Failure("p1", http.StatusBadGateway))
	bridge.Always("p2", testutil.Failure("p2", http.StatusBadGateway))

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.False(t, resp.Success)
	assert.Equal(t, 2, resp.Attempts)

	snap := m.Metrics()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.PerProvider["p1"].Failures)
	assert.Equal(t, int64(1), snap.PerProvider["p2"].Failures)

	last := m.Collector().Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, routing.CodeRetryExhausted, last[0].ErrorKind)
}

func TestManager_ConcurrentAddProvider(t *testing.T) {
	m, _ := newTestManager(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.AddProvider(fmt.Sprintf("provider-%d", i), testutil.ProviderConfig(100, 0)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.Configuration().Providers, n)
	assert.Equal(t, n, m.Metrics().TotalProviders)
}

func TestManager_ConcurrentRouting(t *testing.T) {
	m, bridge := newTestManager(t)
	addProviders(t, m, "p1", "p2", "p3")

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
				assert.True(t, resp.Success)
			}
		}()
	}

	// Configuration changes race with routing.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = m.SetDefaultProvider("p1")
			_ = m.UpdateProvider("p3", testutil.ProviderConfig(float64(10+i), 0))
		}
	}()
	wg.Wait()

	assert.Equal(t, workers*perWorker, bridge.TotalCalls())
	assert.Equal(t, int64(workers*perWorker), m.Metrics().TotalRequests)
}

func TestManager_Prettifier(t *testing.T) {
	t.Run("applied on success", func(t *testing.T) {
		m, _ := newTestManager(t)
		addProviders(t, m, "p1")
		m.SetPrettifier(PrettifierFunc(func(_ context.Context, provider string, _ *routing.Request, resp *routing.Response) (*routing.Response, error) {
			resp.Data = "pretty:" + provider
			return resp, nil
		}))

		resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

		require.True(t, resp.Success)
		assert.Equal(t, "pretty:p1", resp.Data)
	})

	t.Run("error keeps raw response", func(t *testing.T) {
		m, _ := newTestManager(t)
		addProviders(t, m, "p1")
		m.SetPrettifier(PrettifierFunc(func(_ context.Context, _ string, _ *routing.Request, resp *routing.Response) (*routing.Response, error) {
			resp.Data = "corrupted"
			resp.Success = false
			return nil, errors.New("boom")
		}))

		resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

		require.True(t, resp.Success)
		assert.JSONEq(t, `{"provider":"p1"}`, resp.Data)
	})

	t.Run("panic keeps raw response", func(t *testing.T) {
		m, _ := newTestManager(t)
		addProviders(t, m, "p1")
		m.SetPrettifier(PrettifierFunc(func(context.Context, string, *routing.Request, *routing.Response) (*routing.Response, error) {
			panic("formatter bug")
		}))

		resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

		require.True(t, resp.Success)
		assert.JSONEq(t, `{"provider":"p1"}`, resp.Data)
	})

	t.Run("not called on failure", func(t *testing.T) {
		m, bridge := newTestManager(t, WithRetryBudget(0))
		addProviders(t, m, "p1")
		bridge.Always("p1", testutil.Failure("p1", http.StatusInternalServerError))
		called := false
		m.SetPrettifier(PrettifierFunc(func(_ context.Context, _ string, _ *routing.Request, resp *routing.Response) (*routing.Response, error) {
			called = true
			return resp, nil
		}))

		resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

		assert.False(t, resp.Success)
		assert.False(t, called)
	})
}

func TestManager_RouteToProvider(t *testing.T) {
	m, bridge := newTestManager(t)
	addProviders(t, m, "p1", "p2")
	require.NoError(t, m.MarkUnhealthy("p2"))

	resp := m.RouteToProvider(context.Background(), "p1", testutil.TextRequest("hello"))
	require.True(t, resp.Success)
	assert.Equal(t, "p1", resp.ProviderName)

	resp = m.RouteToProvider(context.Background(), "missing", testutil.TextRequest("hello"))
	assert.Equal(t, routing.CodeProviderNotFound, resp.ErrorCode)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = m.RouteToProvider(context.Background(), "p2", testutil.TextRequest("hello"))
	assert.Equal(t, routing.CodeProviderUnhealthy, resp.ErrorCode)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	bridge.Script("p1", testutil.Failure("p1", http.StatusBadRequest))
	resp = m.RouteToProvider(context.Background(), "p1", testutil.TextRequest("hello"))
	assert.Equal(t, routing.CodeProviderDispatch, resp.ErrorCode)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Zero(t, bridge.Calls("p2"))
}

func TestManager_InvalidRequest(t *testing.T) {
	m, bridge := newTestManager(t)
	addProviders(t, m, "p1")

	for _, req := range []*routing.Request{nil, {Model: "x"}} {
		resp := m.RouteRequest(context.Background(), req)
		assert.False(t, resp.Success)
		assert.ErrorIs(t, resp.Err, ErrInvalidRequest)
		assert.Equal(t, routing.CodeInvalidRequest, resp.ErrorCode)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Zero(t, bridge.TotalCalls())
}

func TestManager_ErrorBody(t *testing.T) {
	m, _ := newTestManager(t)

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))

	require.False(t, resp.Success)
	assert.Contains(t, resp.Data, `"code":"NO_HEALTHY_PROVIDER"`)
	assert.Contains(t, resp.Data, `"type":"gateway_error"`)
}

func TestManager_RecoveryAfterMarkHealthy(t *testing.T) {
	m, bridge := newTestManager(t)
	pc := testutil.ProviderConfig(100, 0)
	pc.MaxFailures = 2
	require.NoError(t, m.AddProvider("p1", pc))
	bridge.Script("p1",
		testutil.Failure("p1", http.StatusInternalServerError),
		testutil.Failure("p1", http.StatusInternalServerError),
	)

	m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.Equal(t, providers.HealthUnhealthy, m.Metrics().ProviderHealth["p1"].State)

	var transitions []providers.Transition
	m.OnHealthTransition(func(tr providers.Transition) {
		transitions = append(transitions, tr)
	})
	require.NoError(t, m.MarkHealthy("p1"))

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.True(t, resp.Success)
	health := m.Metrics().ProviderHealth["p1"]
	assert.Equal(t, providers.HealthHealthy, health.State)
	assert.Zero(t, health.FailureCount)
	require.Len(t, transitions, 1)
	assert.Equal(t, providers.HealthHealthy, transitions[0].To)

	assert.ErrorIs(t, m.MarkHealthy("missing"), routing.ErrProviderNotFound)
}

func TestManager_RemoveProvider(t *testing.T) {
	m, _ := newTestManager(t)
	addProviders(t, m, "p1", "p2")
	require.NoError(t, m.SetDefaultProvider("p1"))

	var events []string
	m.OnProviderChange(func(name string, added bool) {
		events = append(events, fmt.Sprintf("%s:%t", name, added))
	})

	require.NoError(t, m.RemoveProvider("p1"))

	assert.Empty(t, m.Bindings().Default)
	assert.NotContains(t, m.Configuration().Providers, "p1")
	assert.Equal(t, []string{"p1:false"}, events)
	assert.ErrorIs(t, m.RemoveProvider("p1"), routing.ErrProviderNotFound)

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.True(t, resp.Success)
	assert.Equal(t, "p2", resp.ProviderName)
}

func TestManager_UpdateProviderKeepsHealth(t *testing.T) {
	m, _ := newTestManager(t)
	addProviders(t, m, "p1")
	require.NoError(t, m.MarkUnhealthy("p1"))

	require.NoError(t, m.UpdateProvider("p1", testutil.ProviderConfig(5, config.FlagVision)))

	e, err := m.Provider("p1")
	require.NoError(t, err)
	assert.Equal(t, providers.HealthUnhealthy, e.Health)
	assert.True(t, e.Capabilities.Vision)
	assert.Equal(t, 5.0, e.Performance.PriorityScore)

	assert.ErrorIs(t, m.UpdateProvider("missing", testutil.ProviderConfig(1, 0)), routing.ErrProviderNotFound)
}

func TestManager_SetBridgeOverride(t *testing.T) {
	m, fallback := newTestManager(t)
	addProviders(t, m, "p1")

	override := testutil.NewMockBridge()
	override.Always("p1", testutil.Success("override"))
	require.NoError(t, m.SetBridge("p1", override))

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.True(t, resp.Success)
	assert.Equal(t, "override", resp.Data)
	assert.Zero(t, fallback.TotalCalls())

	require.NoError(t, m.SetBridge("p1", nil))
	m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	assert.Equal(t, 1, fallback.Calls("p1"))

	assert.ErrorIs(t, m.SetBridge("missing", override), routing.ErrProviderNotFound)
}

func TestManager_Configuration(t *testing.T) {
	m, _ := newTestManager(t)
	addProviders(t, m, "p1")
	require.NoError(t, m.SetDefaultProvider("p1"))

	view := m.Configuration()

	assert.Equal(t, "p1", view.Default)
	assert.Equal(t, config.DefaultRetryBudget, view.RetryBudget)
	require.Contains(t, view.Providers, "p1")
	pc := view.Providers["p1"]
	assert.Equal(t, "test***", pc.APIKey)
	assert.Equal(t, config.DefaultMaxFailures, pc.MaxFailures)
	assert.Equal(t, config.DefaultRecoveryDelay, pc.RecoveryDelay)
}

func TestManager_ConfigurationErrors(t *testing.T) {
	m, _ := newTestManager(t)
	assert.ElementsMatch(t, []string{
		"no providers configured",
		"no default provider configured",
		"no thinking provider configured",
	}, m.ConfigurationErrors())

	require.NoError(t, m.AddProvider("p1", testutil.ProviderConfig(100, config.FlagThinking)))
	require.NoError(t, m.SetDefaultProvider("p1"))
	require.NoError(t, m.SetThinkingProvider("p1"))
	assert.Empty(t, m.ConfigurationErrors())

	require.NoError(t, m.MarkUnhealthy("p1"))
	assert.Equal(t, []string{"provider unhealthy: p1"}, m.ConfigurationErrors())
}

func TestManager_ProvidersWithCapability(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AddProvider("a", testutil.ProviderConfig(100, config.FlagThinking|config.FlagVision)))
	require.NoError(t, m.AddProvider("b", testutil.ProviderConfig(100, config.FlagFunctionCalling)))
	require.NoError(t, m.AddProvider("c", testutil.ProviderConfig(100, config.FlagVision)))
	require.NoError(t, m.MarkUnhealthy("c"))

	assert.Equal(t, []string{"a", "c"}, m.ProvidersWithCapability(routing.CapabilityVision))
	assert.Equal(t, []string{"b"}, m.ProvidersWithCapability(routing.CapabilityTools))
	assert.Equal(t, []string{"a"}, m.ProvidersWithCapability(routing.CapabilityThinking))
	assert.Empty(t, m.ProvidersWithCapability(routing.CapabilityStreaming))
}

func TestManager_DebugRoutingDecision(t *testing.T) {
	m, bridge := newTestManager(t)
	require.NoError(t, m.AddProvider("a", testutil.ProviderConfig(100, config.FlagThinking)))
	require.NoError(t, m.AddProvider("b", testutil.ProviderConfig(100, 0)))

	debug := m.DebugRoutingDecision(testutil.ThinkingRequest())

	assert.Equal(t, routing.RequestThinking, debug.Analysis.Type)
	assert.Equal(t, []string{"a"}, debug.Candidates)
	assert.Equal(t, "a", debug.WouldSelect)
	assert.Equal(t, []string{"a", "b"}, debug.HealthyProviders)
	assert.True(t, debug.Capabilities["a"].Thinking)
	assert.Empty(t, debug.Error)
	assert.Zero(t, bridge.TotalCalls())
}

func TestManager_ReplacingBoundProviderDropsLostCapability(t *testing.T) {
	t.Run("add", func(t *testing.T) {
		m, bridge := newTestManager(t)
		require.NoError(t, m.AddProvider("v", testutil.ProviderConfig(100, config.FlagVision)))
		require.NoError(t, m.AddProvider("eyes", testutil.ProviderConfig(100, config.FlagVision)))
		require.NoError(t, m.SetVisionProvider("v"))

		require.NoError(t, m.AddProvider("v", testutil.ProviderConfig(100, 0)))

		assert.Empty(t, m.Bindings().Vision)
		for i := 0; i < 10; i++ {
			resp := m.RouteRequest(context.Background(), testutil.VisionRequest())
			require.True(t, resp.Success, resp.ErrorMessage)
			assert.Equal(t, "eyes", resp.ProviderName)
		}
		assert.Zero(t, bridge.Calls("v"))
	})

	t.Run("update", func(t *testing.T) {
		m, _ := newTestManager(t)
		require.NoError(t, m.AddProvider("t", testutil.ProviderConfig(100, config.FlagTools|config.FlagVision)))
		require.NoError(t, m.SetToolsProvider("t"))
		require.NoError(t, m.SetVisionProvider("t"))

		require.NoError(t, m.UpdateProvider("t", testutil.ProviderConfig(100, config.FlagVision)))

		b := m.Bindings()
		assert.Empty(t, b.Tools)
		assert.Equal(t, "t", b.Vision)
	})

	t.Run("default binding kept", func(t *testing.T) {
		m, _ := newTestManager(t)
		require.NoError(t, m.AddProvider("d", testutil.ProviderConfig(100, config.FlagVision)))
		require.NoError(t, m.SetDefaultProvider("d"))

		require.NoError(t, m.AddProvider("d", testutil.ProviderConfig(100, 0)))
		assert.Equal(t, "d", m.Bindings().Default)
	})
}

func TestManager_ConcurrentBindAndRemove(t *testing.T) {
	m, _ := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("p%d", i)
		require.NoError(t, m.AddProvider(name, testutil.ProviderConfig(100, config.FlagThinking)))
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.SetThinkingProvider(name)
		}()
		go func() {
			defer wg.Done()
			_ = m.RemoveProvider(name)
		}()
	}
	wg.Wait()

	// Every provider was removed, so no binding may survive.
	assert.Empty(t, m.Bindings().Thinking)
}

func TestManager_RouteDecisions(t *testing.T) {
	m, bridge := newTestManager(t, WithBalancer(firstCandidate{}))
	addProviders(t, m, "p1", "p2", "p3")
	bridge.Script("p1", testutil.Failure("p1", http.StatusServiceUnavailable))
	bridge.Script("p2", testutil.Failure("p2", http.StatusBadGateway))

	var (
		mu        sync.Mutex
		decisions []routing.RouteDecision
	)
	m.OnRouteDecision(func(d routing.RouteDecision) {
		mu.Lock()
		decisions = append(decisions, d)
		mu.Unlock()
	})

	resp := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.True(t, resp.Success, resp.ErrorMessage)

	mu.Lock()
	require.Len(t, decisions, 1)
	d := decisions[0]
	mu.Unlock()

	assert.Equal(t, resp.RequestID, d.RequestID)
	assert.Equal(t, "p3", d.SelectedProvider)
	assert.Equal(t, []string{"p1", "p2", "p3"}, d.CandidatesConsidered)
	require.Len(t, d.FallbackChain, 2)
	assert.Equal(t, "p1", d.FallbackChain[0].Provider)
	assert.Contains(t, d.FallbackChain[0].Reason, "status 503")
	assert.Equal(t, "p2", d.FallbackChain[1].Provider)
	assert.Contains(t, d.FallbackChain[1].Reason, "status 502")

	for _, name := range []string{"p1", "p2", "p3"} {
		require.NoError(t, m.MarkUnhealthy(name))
	}
	rejected := m.RouteRequest(context.Background(), testutil.TextRequest("hello"))
	require.False(t, rejected.Success)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, decisions, 2)
	assert.Empty(t, decisions[1].SelectedProvider)
	assert.Empty(t, decisions[1].CandidatesConsidered)
	assert.Empty(t, decisions[1].FallbackChain)
}

func TestManager_RouteToProviderDecision(t *testing.T) {
	m, bridge := newTestManager(t)
	addProviders(t, m, "p1")
	bridge.Script("p1", testutil.Failure("p1", http.StatusInternalServerError))

	var got []routing.RouteDecision
	m.OnRouteDecision(func(d routing.RouteDecision) { got = append(got, d) })

	resp := m.RouteToProvider(context.Background(), "p1", testutil.TextRequest("hello"))
	require.False(t, resp.Success)

	require.Len(t, got, 1)
	assert.Empty(t, got[0].SelectedProvider)
	require.Len(t, got[0].FallbackChain, 1)
	assert.Equal(t, "p1", got[0].FallbackChain[0].Provider)
	assert.Equal(t, int64(1), m.Metrics().TotalRequests)
}

// closingBridge records whether the manager released its connections.
type closingBridge struct {
	*testutil.MockBridge
	mu     sync.Mutex
	closed bool
}

func (b *closingBridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *closingBridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func TestManager_ShutdownReleasesProviders(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		b := &closingBridge{MockBridge: testutil.NewMockBridge()}
		m, _ := newTestManager(t, WithBridge(b))
		addProviders(t, m, "p1", "p2")
		require.NoError(t, m.SetDefaultProvider("p1"))

		var removed []string
		m.OnProviderChange(func(name string, added bool) {
			if !added {
				removed = append(removed, name)
			}
		})

		require.NoError(t, m.Shutdown(context.Background()))

		assert.True(t, b.isClosed())
		assert.ElementsMatch(t, []string{"p1", "p2"}, removed)
		assert.Zero(t, m.Metrics().TotalProviders)
		assert.Empty(t, m.Configuration().Providers)
		assert.Empty(t, m.Bindings().Default)
	})

	t.Run("expired context", func(t *testing.T) {
		b := &closingBridge{MockBridge: testutil.NewMockBridge()}
		m, _ := newTestManager(t, WithBridge(b))
		addProviders(t, m, "p1")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := m.Shutdown(ctx)
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}

		assert.True(t, b.isClosed())
		assert.Eventually(t, func() bool {
			return m.Metrics().TotalProviders == 0
		}, time.Second, 10*time.Millisecond)
	})
}
