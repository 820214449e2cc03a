package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory. Snapshots are lost on
// exit.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	order     []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*Snapshot)}
}

// Save stores a copy of snap.
func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshots[snap.ID]; !ok {
		m.order = append(m.order, snap.ID)
	}
	cp := *snap
	m.snapshots[snap.ID] = &cp
	return nil
}

// Get returns a copy of the snapshot with the given ID.
func (m *MemoryStore) Get(_ context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

// Latest returns the most recent snapshot.
func (m *MemoryStore) Latest(ctx context.Context) (*Snapshot, error) {
	m.mu.RLock()
	sorted := m.sortedLocked()
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return nil, ErrNotFound
	}
	return m.Get(ctx, sorted[0].ID)
}

// List returns up to limit summaries, newest first.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := m.sortedLocked()
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]Summary, len(sorted))
	for i, snap := range sorted {
		out[i] = snap.Summarize()
	}
	return out, nil
}

// Prune deletes snapshots taken before the cutoff.
func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	deleted := 0
	for _, id := range m.order {
		if m.snapshots[id].TakenAt.Before(before) {
			delete(m.snapshots, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return deleted, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// sortedLocked returns snapshots newest first, insertion order breaking ties.
func (m *MemoryStore) sortedLocked() []*Snapshot {
	out := make([]*Snapshot, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.snapshots[m.order[i]])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TakenAt.After(out[j].TakenAt)
	})
	return out
}
