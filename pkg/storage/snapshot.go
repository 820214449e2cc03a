package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/gateway"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
)

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is a point-in-time record of the gateway state.
type Snapshot struct {
	ID            string                            `json:"id"`
	TakenAt       time.Time                         `json:"taken_at"`
	Reason        string                            `json:"reason"`
	Configuration gateway.ConfigurationView         `json:"configuration"`
	Health        map[string]gateway.ProviderHealth `json:"health"`
	TotalRequests int64                             `json:"total_requests"`
	SuccessRate   float64                           `json:"success_rate"`
}

// Summary is the listing form of a snapshot.
type Summary struct {
	ID               string    `json:"id"`
	TakenAt          time.Time `json:"taken_at"`
	Reason           string    `json:"reason"`
	TotalProviders   int       `json:"total_providers"`
	HealthyProviders int       `json:"healthy_providers"`
}

// Summarize returns the listing form of s.
func (s *Snapshot) Summarize() Summary {
	sum := Summary{
		ID:             s.ID,
		TakenAt:        s.TakenAt,
		Reason:         s.Reason,
		TotalProviders: len(s.Health),
	}
	for _, h := range s.Health {
		if h.Enabled && h.State == providers.HealthHealthy {
			sum.HealthyProviders++
		}
	}
	return sum
}

// Source supplies the state captured in a snapshot. *gateway.Manager
// satisfies it.
type Source interface {
	Configuration() gateway.ConfigurationView
	Metrics() gateway.MetricsSnapshot
}

// Capture builds a snapshot of src at the given time.
func Capture(src Source, reason string, at time.Time) *Snapshot {
	m := src.Metrics()
	return &Snapshot{
		ID:            uuid.NewString(),
		TakenAt:       at,
		Reason:        reason,
		Configuration: src.Configuration(),
		Health:        m.ProviderHealth,
		TotalRequests: m.TotalRequests,
		SuccessRate:   m.SuccessRate,
	}
}

// Store persists snapshots.
type Store interface {
	// Save writes a snapshot. An empty ID is filled in.
	Save(ctx context.Context, s *Snapshot) error

	// Get returns the snapshot with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Snapshot, error)

	// Latest returns the most recent snapshot or ErrNotFound.
	Latest(ctx context.Context) (*Snapshot, error)

	// List returns up to limit summaries, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Prune deletes snapshots taken before the cutoff and returns the count.
	Prune(ctx context.Context, before time.Time) (int, error)

	// Close releases resources. It is safe to call more than once.
	Close() error
}
