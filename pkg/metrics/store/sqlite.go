package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite for persistence.
// This backend provides durable storage and is suitable for
// single-instance deployments where metrics must survive restarts.
//
// SQLiteBackend uses a write-ahead log (WAL) for better concurrent
// performance and automatic checkpointing to balance write performance
// with durability.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	mu                 sync.RWMutex
	closeOnce          sync.Once

	// preparedStatements contains pre-compiled SQL statements for performance
	saveSnapStmt  *sql.Stmt
	listSnapStmt  *sql.Stmt
	pruneSnapStmt *sql.Stmt
	saveAggStmt   *sql.Stmt
	listAggStmt   *sql.Stmt
	savePatStmt   *sql.Stmt
	loadPatStmt   *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom
// configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		collected_at INTEGER NOT NULL,
		summary TEXT NOT NULL,
		scopes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_collected_at ON snapshots(collected_at);

	CREATE TABLE IF NOT EXISTS aggregates (
		period_start INTEGER PRIMARY KEY,
		period_end INTEGER NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS patterns (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.saveSnapStmt, err = s.db.Prepare(`
		INSERT INTO snapshots (id, collected_at, summary, scopes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			collected_at = excluded.collected_at,
			summary = excluded.summary,
			scopes = excluded.scopes
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot save statement: %w", err)
	}

	s.listSnapStmt, err = s.db.Prepare(`
		SELECT id, collected_at, summary, scopes
		FROM snapshots
		WHERE collected_at >= ? AND collected_at < ?
		ORDER BY collected_at ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot list statement: %w", err)
	}

	s.pruneSnapStmt, err = s.db.Prepare(`
		DELETE FROM snapshots
		WHERE collected_at < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot prune statement: %w", err)
	}

	s.saveAggStmt, err = s.db.Prepare(`
		INSERT INTO aggregates (period_start, period_end, data)
		VALUES (?, ?, ?)
		ON CONFLICT (period_start) DO UPDATE SET
			period_end = excluded.period_end,
			data = excluded.data
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare aggregate save statement: %w", err)
	}

	s.listAggStmt, err = s.db.Prepare(`
		SELECT data
		FROM aggregates
		WHERE period_start >= ? AND period_start < ?
		ORDER BY period_start ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare aggregate list statement: %w", err)
	}

	s.savePatStmt, err = s.db.Prepare(`
		INSERT INTO patterns (id, data, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare pattern save statement: %w", err)
	}

	s.loadPatStmt, err = s.db.Prepare(`
		SELECT data FROM patterns WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare pattern load statement: %w", err)
	}

	return nil
}

// SaveSnapshot persists a single collection snapshot.
func (s *SQLiteBackend) SaveSnapshot(ctx context.Context, snap *SnapshotRecord) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snap.ID == "" {
		return fmt.Errorf("snapshot id cannot be empty")
	}

	summaryJSON, err := json.Marshal(snap.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	var scopesJSON []byte
	if len(snap.Scopes) > 0 {
		scopesJSON, err = json.Marshal(snap.Scopes)
		if err != nil {
			return fmt.Errorf("failed to marshal scopes: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.saveSnapStmt.ExecContext(ctx,
		snap.ID,
		snap.Timestamp.Unix(),
		string(summaryJSON),
		string(scopesJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots with timestamps in [from, to).
func (s *SQLiteBackend) ListSnapshots(ctx context.Context, from, to time.Time) ([]*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listSnapStmt.QueryContext(ctx, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]*SnapshotRecord, 0)
	for rows.Next() {
		var (
			id          string
			collectedAt int64
			summaryJSON string
			scopesJSON  sql.NullString
		)
		if err := rows.Scan(&id, &collectedAt, &summaryJSON, &scopesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		snap := &SnapshotRecord{
			ID:        id,
			Timestamp: time.Unix(collectedAt, 0).UTC(),
		}
		if err := json.Unmarshal([]byte(summaryJSON), &snap.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
		if scopesJSON.Valid && scopesJSON.String != "" {
			if err := json.Unmarshal([]byte(scopesJSON.String), &snap.Scopes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
			}
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	return out, nil
}

// PruneSnapshots removes snapshots older than the cutoff.
func (s *SQLiteBackend) PruneSnapshots(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.pruneSnapStmt.ExecContext(ctx, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// SaveAggregate persists an hourly rollup.
func (s *SQLiteBackend) SaveAggregate(ctx context.Context, agg *Aggregate) error {
	if agg == nil {
		return fmt.Errorf("aggregate cannot be nil")
	}

	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.saveAggStmt.ExecContext(ctx,
		agg.PeriodStart.Unix(),
		agg.PeriodEnd.Unix(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save aggregate: %w", err)
	}
	return nil
}

// ListAggregates returns rollups with period starts in [from, to).
func (s *SQLiteBackend) ListAggregates(ctx context.Context, from, to time.Time) ([]*Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listAggStmt.QueryContext(ctx, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	defer rows.Close()

	out := make([]*Aggregate, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		var agg Aggregate
		if err := json.Unmarshal([]byte(data), &agg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aggregate: %w", err)
		}
		out = append(out, &agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregate rows: %w", err)
	}
	return out, nil
}

// SavePatterns persists the traffic pattern accumulators.
func (s *SQLiteBackend) SavePatterns(ctx context.Context, p *PatternState) error {
	if p == nil {
		return fmt.Errorf("pattern state cannot be nil")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.savePatStmt.ExecContext(ctx, string(data), p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save pattern state: %w", err)
	}
	return nil
}

// LoadPatterns retrieves the persisted traffic patterns.
func (s *SQLiteBackend) LoadPatterns(ctx context.Context) (*PatternState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.loadPatStmt.QueryRowContext(ctx).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern state: %w", err)
	}

	var p PatternState
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pattern state: %w", err)
	}
	return &p, nil
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.saveSnapStmt, s.listSnapStmt, s.pruneSnapStmt,
			s.saveAggStmt, s.listAggStmt,
			s.savePatStmt, s.loadPatStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			// Run final checkpoint
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
