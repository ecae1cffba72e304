package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory storage.
// This is the default backend and provides fast access with no
// persistence. All data is lost when the process exits.
//
// MemoryBackend is thread-safe and supports concurrent access using
// sync.RWMutex.
type MemoryBackend struct {
	// snapshots holds records ordered by insertion (monotonic timestamps).
	snapshots []*SnapshotRecord

	// aggregates maps period start (unix seconds) to the rollup.
	aggregates map[int64]*Aggregate

	// patterns is the last saved pattern state, nil until saved.
	patterns *PatternState

	// mu protects all fields above.
	mu sync.RWMutex

	// maxSnapshots bounds the snapshot slice; oldest entries are
	// evicted when the limit is reached.
	maxSnapshots int

	// maxAggregates bounds the aggregate map the same way.
	maxAggregates int
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxSnapshots is the maximum number of snapshot records to keep.
	// Default: 8,640 (one day at a 10 second collection interval).
	MaxSnapshots int

	// MaxAggregates is the maximum number of hourly rollups to keep.
	// Default: 720 (thirty days).
	MaxAggregates int
}

// NewMemoryBackend creates a new in-memory backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a new in-memory backend with
// custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = 8640
	}
	if cfg.MaxAggregates <= 0 {
		cfg.MaxAggregates = 720
	}
	return &MemoryBackend{
		aggregates:    make(map[int64]*Aggregate),
		maxSnapshots:  cfg.MaxSnapshots,
		maxAggregates: cfg.MaxAggregates,
	}
}

// SaveSnapshot persists a single collection snapshot.
func (m *MemoryBackend) SaveSnapshot(_ context.Context, snap *SnapshotRecord) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = append(m.snapshots, snap)
	if over := len(m.snapshots) - m.maxSnapshots; over > 0 {
		m.snapshots = append(m.snapshots[:0:0], m.snapshots[over:]...)
	}
	return nil
}

// ListSnapshots returns snapshots with timestamps in [from, to).
func (m *MemoryBackend) ListSnapshots(_ context.Context, from, to time.Time) ([]*SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SnapshotRecord, 0)
	for _, s := range m.snapshots {
		if s.Timestamp.Before(from) || !s.Timestamp.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// PruneSnapshots removes snapshots older than the cutoff.
func (m *MemoryBackend) PruneSnapshots(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.snapshots[:0]
	removed := 0
	for _, s := range m.snapshots {
		if s.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	m.snapshots = kept
	return removed, nil
}

// SaveAggregate persists an hourly rollup.
func (m *MemoryBackend) SaveAggregate(_ context.Context, agg *Aggregate) error {
	if agg == nil {
		return fmt.Errorf("aggregate cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.aggregates[agg.PeriodStart.Unix()] = agg
	if len(m.aggregates) > m.maxAggregates {
		oldest := int64(0)
		for k := range m.aggregates {
			if oldest == 0 || k < oldest {
				oldest = k
			}
		}
		delete(m.aggregates, oldest)
	}
	return nil
}

// ListAggregates returns rollups with period starts in [from, to).
func (m *MemoryBackend) ListAggregates(_ context.Context, from, to time.Time) ([]*Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Aggregate, 0)
	for _, a := range m.aggregates {
		if a.PeriodStart.Before(from) || !a.PeriodStart.Before(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out, nil
}

// SavePatterns persists the traffic pattern accumulators.
func (m *MemoryBackend) SavePatterns(_ context.Context, p *PatternState) error {
	if p == nil {
		return fmt.Errorf("pattern state cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.patterns = &cp
	return nil
}

// LoadPatterns retrieves the persisted traffic patterns.
func (m *MemoryBackend) LoadPatterns(_ context.Context) (*PatternState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.patterns == nil {
		return nil, nil
	}
	cp := *m.patterns
	return &cp, nil
}

// Close releases any resources held by the backend.
func (m *MemoryBackend) Close() error {
	return nil
}
