// Package testutil holds scripted doubles for the gateway's external
// interfaces. It is only imported by tests.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// Outcome is one scripted dispatch result.
type Outcome struct {
	Result providers.DispatchResult
	Err    error
}

// Success returns a 200 outcome carrying body.
func Success(body string) Outcome {
	return Outcome{Result: providers.DispatchResult{
		Body:       []byte(body),
		StatusCode: http.StatusOK,
		Success:    true,
		Duration:   time.Millisecond,
	}}
}

// Failure returns a failed outcome with the given upstream status.
func Failure(name string, status int) Outcome {
	return Outcome{
		Result: providers.DispatchResult{
			Body:       []byte(fmt.Sprintf(`{"error":%q}`, http.StatusText(status))),
			StatusCode: status,
			Duration:   time.Millisecond,
		},
		Err: &routing.ProviderDispatchError{
			ProviderName: name,
			StatusCode:   status,
			Message:      http.StatusText(status),
		},
	}
}

// MockBridge is a scripted Bridge. Scripted outcomes for a provider are
// consumed in order; once exhausted the provider's standing outcome is
// returned, and a provider with neither succeeds with a small JSON body.
type MockBridge struct {
	mu       sync.Mutex
	scripts  map[string][]Outcome
	standing map[string]Outcome
	calls    map[string]int
	order    []string
	delay    time.Duration
}

// NewMockBridge creates a bridge where every provider succeeds.
func NewMockBridge() *MockBridge {
	return &MockBridge{
		scripts:  make(map[string][]Outcome),
		standing: make(map[string]Outcome),
		calls:    make(map[string]int),
	}
}

// Script queues outcomes for name.
func (b *MockBridge) Script(name string, outcomes ...Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[name] = append(b.scripts[name], outcomes...)
}

// Always sets the outcome returned for name once its script is exhausted.
func (b *MockBridge) Always(name string, outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.standing[name] = outcome
}

// SetDelay makes every dispatch wait d or until the context is done.
func (b *MockBridge) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// Dispatch implements the gateway Bridge interface.
func (b *MockBridge) Dispatch(ctx context.Context, e providers.Entry, req *routing.Request) (providers.DispatchResult, error) {
	b.mu.Lock()
	b.calls[e.Name]++
	b.order = append(b.order, e.Name)
	delay := b.delay
	outcome, ok := b.next(e.Name)
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return providers.DispatchResult{}, &routing.ProviderDispatchError{ProviderName: e.Name, Err: ctx.Err()}
		}
	}

	if !ok {
		outcome = Success(fmt.Sprintf(`{"provider":%q}`, e.Name))
	}
	return outcome.Result, outcome.Err
}

func (b *MockBridge) next(name string) (Outcome, bool) {
	if queue := b.scripts[name]; len(queue) > 0 {
		b.scripts[name] = queue[1:]
		return queue[0], true
	}
	outcome, ok := b.standing[name]
	return outcome, ok
}

// Calls returns the number of dispatches to name.
func (b *MockBridge) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

// TotalCalls returns the number of dispatches to any provider.
func (b *MockBridge) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Order returns the dispatched provider names in call order.
func (b *MockBridge) Order() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}
