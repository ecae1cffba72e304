package metrics

import "time"

// Sample is one per-scope observation in a series ring.
type Sample struct {
	Timestamp time.Time
	Values    map[string]float64
}

// snapshotRing is a bounded append-only ring of snapshots, oldest
// evicted first. Not safe for concurrent use; the engine's mutex
// serializes access.
type snapshotRing struct {
	buf      []*Snapshot
	capacity int
}

func newSnapshotRing(capacity int) *snapshotRing {
	return &snapshotRing{capacity: capacity}
}

func (r *snapshotRing) append(s *Snapshot) {
	r.buf = append(r.buf, s)
	if over := len(r.buf) - r.capacity; over > 0 {
		r.buf = append(r.buf[:0:0], r.buf[over:]...)
	}
}

// latest returns the most recent snapshot, or nil when empty.
func (r *snapshotRing) latest() *Snapshot {
	if len(r.buf) == 0 {
		return nil
	}
	return r.buf[len(r.buf)-1]
}

// slice returns up to limit of the most recent snapshots, oldest
// first. A limit of zero or less returns everything retained.
func (r *snapshotRing) slice(limit int) []*Snapshot {
	buf := r.buf
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	out := make([]*Snapshot, len(buf))
	copy(out, buf)
	return out
}

// between returns snapshots with timestamps in [from, to), oldest first.
func (r *snapshotRing) between(from, to time.Time) []*Snapshot {
	out := make([]*Snapshot, 0)
	for _, s := range r.buf {
		if s.Timestamp.Before(from) || !s.Timestamp.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// seriesRing is a bounded ring of per-scope samples, oldest evicted
// first. Not safe for concurrent use.
type seriesRing struct {
	samples  []Sample
	capacity int
}

func newSeriesRing(capacity int) *seriesRing {
	return &seriesRing{capacity: capacity}
}

func (r *seriesRing) append(s Sample) {
	r.samples = append(r.samples, s)
	if over := len(r.samples) - r.capacity; over > 0 {
		r.samples = append(r.samples[:0:0], r.samples[over:]...)
	}
}

// slice returns up to limit of the most recent samples, oldest first.
// A limit of zero or less returns everything retained.
func (r *seriesRing) slice(limit int) []Sample {
	samples := r.samples
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

// values returns the retained values for one metric, oldest first.
func (r *seriesRing) values(metric string) []float64 {
	out := make([]float64, 0, len(r.samples))
	for _, s := range r.samples {
		if v, ok := s.Values[metric]; ok {
			out = append(out, v)
		}
	}
	return out
}
