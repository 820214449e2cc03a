package providers

import (
	"sort"
	"sync"
	"time"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// ChangeFunc is notified when a provider is added (or replaced) or removed.
type ChangeFunc func(name string, added bool)

// Transition describes the effect of a health mutation on one provider.
type Transition struct {
	Name         string
	From         HealthState
	To           HealthState
	FailureCount int
}

// Changed reports whether the health state changed.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Registry is the authoritative store of provider entries.
//
// All mutations of an entry, including its health, happen under a single
// lock so each provider has exactly one health value at any time. Critical
// sections only copy structs; readers receive copies. Change listeners are
// invoked after the lock is released.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	listenersMu sync.RWMutex
	listeners   []ChangeFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// OnChange registers a listener for additions and removals.
func (r *Registry) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

func (r *Registry) notify(name string, added bool) {
	r.listenersMu.RLock()
	listeners := append([]ChangeFunc(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(name, added)
	}
}

// Add inserts the entry, atomically replacing any entry with the same name.
// It reports whether an existing entry was replaced.
func (r *Registry) Add(e Entry) bool {
	stored := e.clone()

	r.mu.Lock()
	_, replaced := r.entries[e.Name]
	r.entries[e.Name] = &stored
	r.mu.Unlock()

	r.notify(e.Name, true)
	return replaced
}

// Update replaces the configuration of an existing entry while keeping its
// health state, failure count and timestamps.
func (r *Registry) Update(e Entry) error {
	r.mu.Lock()
	current, ok := r.entries[e.Name]
	if !ok {
		available := r.namesLocked()
		r.mu.Unlock()
		return &routing.ProviderNotFoundError{ProviderName: e.Name, AvailableProviders: available}
	}
	stored := e.clone()
	stored.Health = current.Health
	stored.FailureCount = current.FailureCount
	stored.UnhealthySince = current.UnhealthySince
	stored.LastCheck = current.LastCheck
	stored.LastError = current.LastError
	r.entries[e.Name] = &stored
	r.mu.Unlock()

	r.notify(e.Name, true)
	return nil
}

// Remove deletes the named entry. It reports whether the entry existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()

	if ok {
		r.notify(name, false)
	}
	return ok
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	names := r.namesLocked()
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for _, name := range names {
		r.notify(name, false)
	}
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns a copy of the named entry.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Capabilities returns the capabilities of the named entry.
func (r *Registry) Capabilities(name string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Capabilities{}, false
	}
	return e.Capabilities, true
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// HealthyCount returns the number of healthy entries.
func (r *Registry) HealthyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.Health == HealthHealthy {
			n++
		}
	}
	return n
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns copies of all entries ordered by name.
func (r *Registry) Snapshot() []Entry {
	return r.filter(func(*Entry) bool { return true })
}

// ListByHealth returns copies of the entries in the given state, ordered by name.
func (r *Registry) ListByHealth(state HealthState) []Entry {
	return r.filter(func(e *Entry) bool { return e.Health == state })
}

// Candidates returns the enabled, healthy entries supporting every required
// capability, ordered by name.
func (r *Registry) Candidates(required []routing.Capability) []Entry {
	return r.filter(func(e *Entry) bool {
		return e.Routable() && e.Capabilities.SupportsAll(required)
	})
}

func (r *Registry) filter(keep func(*Entry) bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, name := range r.namesLocked() {
		e := r.entries[name]
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	return out
}

// RecordFailure counts a failed dispatch or probe. A healthy entry opens
// once its failure count reaches MaxFailures.
func (r *Registry) RecordFailure(name string, cause error, now time.Time) (Transition, bool) {
	return r.mutate(name, func(e *Entry) {
		e.FailureCount++
		e.LastCheck = now
		if cause != nil {
			e.LastError = cause.Error()
		}
		threshold := e.Limits.MaxFailures
		if threshold < 1 {
			threshold = 1
		}
		if e.Health == HealthHealthy && e.FailureCount >= threshold {
			e.Health = HealthUnhealthy
			e.UnhealthySince = now
		}
	})
}

// RecordSuccess counts a successful dispatch. A healthy entry has its
// consecutive failures cleared; an unhealthy entry closes only once its
// RecoveryDelay has elapsed.
func (r *Registry) RecordSuccess(name string, now time.Time) (Transition, bool) {
	return r.mutate(name, func(e *Entry) {
		e.LastCheck = now
		switch {
		case e.Health == HealthHealthy:
			e.FailureCount = 0
			e.LastError = ""
		case now.Sub(e.UnhealthySince) >= e.Limits.RecoveryDelay:
			markHealthy(e)
		}
	})
}

// SetHealth forces the state of an entry. Entering HEALTHY clears the
// failure count.
func (r *Registry) SetHealth(name string, state HealthState, now time.Time) (Transition, bool) {
	return r.mutate(name, func(e *Entry) {
		e.LastCheck = now
		if state == HealthHealthy {
			if e.Health != HealthHealthy {
				markHealthy(e)
			}
			return
		}
		if e.Health != HealthUnhealthy {
			e.Health = HealthUnhealthy
			e.UnhealthySince = now
		}
	})
}

func markHealthy(e *Entry) {
	e.Health = HealthHealthy
	e.FailureCount = 0
	e.UnhealthySince = time.Time{}
	e.LastError = ""
}

func (r *Registry) mutate(name string, fn func(*Entry)) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return Transition{Name: name}, false
	}
	from := e.Health
	fn(e)
	return Transition{Name: name, From: from, To: e.Health, FailureCount: e.FailureCount}, true
}
