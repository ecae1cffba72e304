package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// FileBackend implements Backend using JSON files under a data
// directory. Snapshots are appended to one JSON-lines file per day,
// aggregates live in one JSON array file per day, and pattern state is
// a single file rewritten on each save.
//
// Layout:
//
//	<dir>/snapshots/2026-08-30.jsonl
//	<dir>/aggregates/2026-08-30.json
//	<dir>/patterns.json
//
// Aggregate and pattern files are written to a temporary file first and
// renamed into place so a crash never leaves a truncated file behind.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates a file backend rooted at dir, creating the
// directory tree if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	for _, sub := range []string{"snapshots", "aggregates"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return &FileBackend{dir: dir}, nil
}

// SaveSnapshot appends the snapshot to the current day's file.
func (f *FileBackend) SaveSnapshot(_ context.Context, snap *SnapshotRecord) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.snapshotPath(snap.Timestamp)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer fh.Close()

	if _, err := fh.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots with timestamps in [from, to).
func (f *FileBackend) ListSnapshots(_ context.Context, from, to time.Time) ([]*SnapshotRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*SnapshotRecord, 0)
	for day := from.Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
		data, err := os.ReadFile(f.snapshotPath(day))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot file: %w", err)
		}

		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var snap SnapshotRecord
			if err := json.Unmarshal(line, &snap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
			}
			if snap.Timestamp.Before(from) || !snap.Timestamp.Before(to) {
				continue
			}
			out = append(out, &snap)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot file: %w", err)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// PruneSnapshots removes day files that end before the cutoff. Pruning
// is file-granular: the cutoff's own day is always kept.
func (f *FileBackend) PruneSnapshots(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(f.dir, "snapshots"))
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".jsonl")
		day, err := time.Parse(dayLayout, name)
		if err != nil {
			continue
		}
		if !day.Add(24 * time.Hour).Before(olderThan) {
			continue
		}

		path := filepath.Join(f.dir, "snapshots", e.Name())
		n, err := countLines(path)
		if err != nil {
			return removed, err
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove snapshot file: %w", err)
		}
		removed += n
	}
	return removed, nil
}

// SaveAggregate rewrites the day file for the aggregate's period start,
// replacing any record with the same period.
func (f *FileBackend) SaveAggregate(ctx context.Context, agg *Aggregate) error {
	if agg == nil {
		return fmt.Errorf("aggregate cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.aggregatePath(agg.PeriodStart)
	existing, err := readAggregateFile(path)
	if err != nil {
		return err
	}

	merged := existing[:0]
	for _, a := range existing {
		if !a.PeriodStart.Equal(agg.PeriodStart) {
			merged = append(merged, a)
		}
	}
	merged = append(merged, agg)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].PeriodStart.Before(merged[j].PeriodStart)
	})

	return writeJSONAtomic(path, merged)
}

// ListAggregates returns rollups with period starts in [from, to).
func (f *FileBackend) ListAggregates(_ context.Context, from, to time.Time) ([]*Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*Aggregate, 0)
	for day := from.Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
		aggs, err := readAggregateFile(f.aggregatePath(day))
		if err != nil {
			return nil, err
		}
		for _, a := range aggs {
			if a.PeriodStart.Before(from) || !a.PeriodStart.Before(to) {
				continue
			}
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out, nil
}

// SavePatterns rewrites the pattern state file.
func (f *FileBackend) SavePatterns(_ context.Context, p *PatternState) error {
	if p == nil {
		return fmt.Errorf("pattern state cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return writeJSONAtomic(filepath.Join(f.dir, "patterns.json"), p)
}

// LoadPatterns reads the pattern state file.
func (f *FileBackend) LoadPatterns(_ context.Context) (*PatternState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(f.dir, "patterns.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern state: %w", err)
	}

	var p PatternState
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pattern state: %w", err)
	}
	return &p, nil
}

// Close releases any resources held by the backend.
func (f *FileBackend) Close() error {
	return nil
}

func (f *FileBackend) snapshotPath(ts time.Time) string {
	return filepath.Join(f.dir, "snapshots", ts.UTC().Format(dayLayout)+".jsonl")
}

func (f *FileBackend) aggregatePath(ts time.Time) string {
	return filepath.Join(f.dir, "aggregates", ts.UTC().Format(dayLayout)+".json")
}

func readAggregateFile(path string) ([]*Aggregate, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate file: %w", err)
	}

	var aggs []*Aggregate
	if err := json.Unmarshal(data, &aggs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aggregate file: %w", err)
	}
	return aggs, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	n := 0
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n, nil
}
