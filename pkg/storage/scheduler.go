package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultPruneSchedule runs retention pruning daily at 3 AM.
const DefaultPruneSchedule = "0 3 * * *"

// SchedulerConfig configures the snapshot scheduler.
type SchedulerConfig struct {
	// SnapshotSchedule is a standard cron expression. Empty disables
	// periodic snapshots.
	SnapshotSchedule string

	// PruneSchedule is a standard cron expression for retention pruning.
	// Default: DefaultPruneSchedule
	PruneSchedule string

	// Retention is how long snapshots are kept. Zero disables pruning.
	Retention time.Duration
}

// Scheduler takes periodic snapshots of a Source and prunes old ones.
type Scheduler struct {
	store   Store
	source  Source
	config  SchedulerConfig
	cron    *cron.Cron
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler writing snapshots of source to store.
func NewScheduler(store Store, source Source, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultPruneSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:  store,
		source: source,
		config: cfg,
		cron:   cron.New(),
		logger: logger.Named("storage.scheduler"),
		now:    time.Now,
	}
}

// Start registers the snapshot and prune jobs and starts the cron runner.
// The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	jobs := 0
	if s.config.SnapshotSchedule != "" {
		if _, err := cron.ParseStandard(s.config.SnapshotSchedule); err != nil {
			return fmt.Errorf("invalid snapshot schedule %q: %w", s.config.SnapshotSchedule, err)
		}
		if _, err := s.cron.AddFunc(s.config.SnapshotSchedule, func() {
			if _, err := s.SnapshotNow(ctx, "scheduled"); err != nil {
				s.logger.Error("scheduled snapshot failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule snapshots: %w", err)
		}
		jobs++
	}

	if s.config.Retention > 0 {
		if _, err := cron.ParseStandard(s.config.PruneSchedule); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", s.config.PruneSchedule, err)
		}
		if _, err := s.cron.AddFunc(s.config.PruneSchedule, func() {
			if _, err := s.PruneNow(ctx); err != nil {
				s.logger.Error("scheduled pruning failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule pruning: %w", err)
		}
		jobs++
	}

	if jobs == 0 {
		s.logger.Info("no snapshot schedule configured, skipping scheduler")
		return nil
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("snapshot scheduler started",
		zap.String("snapshot_schedule", s.config.SnapshotSchedule),
		zap.String("prune_schedule", s.config.PruneSchedule),
		zap.Duration("retention", s.config.Retention),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// SnapshotNow captures and saves a snapshot immediately.
func (s *Scheduler) SnapshotNow(ctx context.Context, reason string) (*Snapshot, error) {
	snap := Capture(s.source, reason, s.now())
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, err
	}
	s.logger.Debug("snapshot saved",
		zap.String("snapshot_id", snap.ID),
		zap.String("reason", reason),
	)
	return snap, nil
}

// PruneNow deletes snapshots older than the retention window.
func (s *Scheduler) PruneNow(ctx context.Context) (int, error) {
	if s.config.Retention <= 0 {
		return 0, nil
	}
	deleted, err := s.store.Prune(ctx, s.now().Add(-s.config.Retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("pruned snapshots", zap.Int("deleted_count", deleted))
	}
	return deleted, nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("snapshot scheduler stopped")
	}
}

// IsRunning reports whether the cron runner is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the earliest scheduled job time, or nil when idle.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next == nil || e.Next.Before(*next) {
			t := e.Next
			next = &t
		}
	}
	return next
}
