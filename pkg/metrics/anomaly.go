package metrics

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how far an anomalous value deviates from its
// baseline.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Direction indicates which side of the baseline the value fell on.
type Direction string

const (
	DirectionHigh Direction = "high"
	DirectionLow  Direction = "low"
)

// Anomaly records one metric value that deviated from its baseline by
// at least the configured z-score threshold.
type Anomaly struct {
	ID           string    `json:"id"`
	Scope        string    `json:"scope"`
	Metric       string    `json:"metric"`
	Value        float64   `json:"value"`
	BaselineMean float64   `json:"baseline_mean"`
	ZScore       float64   `json:"z_score"`
	Severity     Severity  `json:"severity"`
	Direction    Direction `json:"direction"`
	Timestamp    time.Time `json:"timestamp"`
}

// classifySeverity maps a z-score magnitude to a severity band relative
// to the detection threshold.
func classifySeverity(absZ, threshold float64) Severity {
	switch {
	case absZ >= 2*threshold:
		return SeverityCritical
	case absZ >= 1.5*threshold:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// detectAnomalies scores the latest per-scope values against the
// baseline table. Metrics whose baseline stddev is below the noise
// floor are skipped; values with |z| >= threshold are flagged.
func detectAnomalies(baselines map[string]Baseline, scopes map[string]map[string]float64, threshold, noiseFloor float64, now time.Time) []Anomaly {
	var out []Anomaly
	for scope, values := range scopes {
		for metric, value := range values {
			b, ok := baselines[baselineKey(scope, metric)]
			if !ok || b.StdDev < noiseFloor {
				continue
			}

			z := (value - b.Mean) / b.StdDev
			if math.Abs(z) < threshold {
				continue
			}

			direction := DirectionHigh
			if z < 0 {
				direction = DirectionLow
			}
			out = append(out, Anomaly{
				ID:           uuid.NewString(),
				Scope:        scope,
				Metric:       metric,
				Value:        value,
				BaselineMean: b.Mean,
				ZScore:       z,
				Severity:     classifySeverity(math.Abs(z), threshold),
				Direction:    direction,
				Timestamp:    now,
			})
		}
	}
	return out
}

// anomalyLog is a bounded append-only log, oldest evicted first. Not
// safe for concurrent use; the engine's mutex serializes access.
type anomalyLog struct {
	entries  []Anomaly
	capacity int
}

func newAnomalyLog(capacity int) *anomalyLog {
	return &anomalyLog{capacity: capacity}
}

func (l *anomalyLog) append(batch []Anomaly) {
	l.entries = append(l.entries, batch...)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

// slice returns up to limit entries, most recent first. A limit of
// zero or less returns everything retained.
func (l *anomalyLog) slice(limit int) []Anomaly {
	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Anomaly, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}
