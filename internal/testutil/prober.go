package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
)

// ErrProbeFailed is returned by MockProber for providers set to fail.
var ErrProbeFailed = errors.New("probe failed")

// MockProber answers health probes from a per-provider table. Providers
// not in the table pass.
type MockProber struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int
}

// NewMockProber creates a prober where every provider passes.
func NewMockProber() *MockProber {
	return &MockProber{
		failing: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// SetFailing controls whether probes of name fail.
func (p *MockProber) SetFailing(name string, failing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[name] = failing
}

// Probe implements providers.Prober.
func (p *MockProber) Probe(_ context.Context, e providers.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[e.Name]++
	if p.failing[e.Name] {
		return ErrProbeFailed
	}
	return nil
}

// Calls returns the number of probes of name.
func (p *MockProber) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}
