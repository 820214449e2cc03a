package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on SQLite. It runs the database in WAL mode
// with a single connection, which suits one gateway process.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	mu        sync.RWMutex
	closeOnce sync.Once

	saveStmt   *sql.Stmt
	getStmt    *sql.Stmt
	latestStmt *sql.Stmt
	listStmt   *sql.Stmt
	pruneStmt  *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" opens a private
	// in-memory database.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens (creating if needed) a snapshot database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens a snapshot database with custom settings.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: cfg.Path}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		taken_at INTEGER NOT NULL,
		reason TEXT NOT NULL,
		configuration TEXT NOT NULL,
		health TEXT NOT NULL,
		total_requests INTEGER NOT NULL,
		success_rate REAL NOT NULL,
		total_providers INTEGER NOT NULL,
		healthy_providers INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	const columns = `id, taken_at, reason, configuration, health, total_requests, success_rate`

	var err error
	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO snapshots (id, taken_at, reason, configuration, health,
			total_requests, success_rate, total_providers, healthy_providers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			taken_at = excluded.taken_at,
			reason = excluded.reason,
			configuration = excluded.configuration,
			health = excluded.health,
			total_requests = excluded.total_requests,
			success_rate = excluded.success_rate,
			total_providers = excluded.total_providers,
			healthy_providers = excluded.healthy_providers
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`SELECT ` + columns + ` FROM snapshots WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.latestStmt, err = s.db.Prepare(`SELECT ` + columns + ` FROM snapshots ORDER BY taken_at DESC, rowid DESC LIMIT 1`)
	if err != nil {
		return fmt.Errorf("failed to prepare latest statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT id, taken_at, reason, total_providers, healthy_providers
		FROM snapshots
		ORDER BY taken_at DESC, rowid DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`DELETE FROM snapshots WHERE taken_at < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

// Save writes a snapshot, replacing any snapshot with the same ID.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}

	configJSON, err := json.Marshal(snap.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	healthJSON, err := json.Marshal(snap.Health)
	if err != nil {
		return fmt.Errorf("failed to marshal health: %w", err)
	}
	sum := snap.Summarize()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.saveStmt.ExecContext(ctx,
		snap.ID,
		snap.TakenAt.UnixNano(),
		snap.Reason,
		string(configJSON),
		string(healthJSON),
		snap.TotalRequests,
		snap.SuccessRate,
		sum.TotalProviders,
		sum.HealthyProviders,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanSnapshot(s.getStmt.QueryRowContext(ctx, id))
}

// Latest returns the most recent snapshot.
func (s *SQLiteStore) Latest(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanSnapshot(s.latestStmt.QueryRowContext(ctx))
}

// List returns up to limit summaries, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			takenAt int64
		)
		if err := rows.Scan(&sum.ID, &takenAt, &sum.Reason, &sum.TotalProviders, &sum.HealthyProviders); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sum.TakenAt = time.Unix(0, takenAt)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Prune deletes snapshots taken before the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.pruneStmt.ExecContext(ctx, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Close releases the prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.saveStmt, s.getStmt, s.latestStmt, s.listStmt, s.pruneStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		closeErr = s.db.Close()
	})
	return closeErr
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var (
		snap       Snapshot
		takenAt    int64
		configJSON string
		healthJSON string
	)
	err := row.Scan(&snap.ID, &takenAt, &snap.Reason, &configJSON, &healthJSON, &snap.TotalRequests, &snap.SuccessRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap.TakenAt = time.Unix(0, takenAt)
	if err := json.Unmarshal([]byte(configJSON), &snap.Configuration); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := json.Unmarshal([]byte(healthJSON), &snap.Health); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health: %w", err)
	}
	return &snap, nil
}
