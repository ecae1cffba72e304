package metrics

import (
	"time"

	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/metrics/store"
)

// buildAggregate rolls the given snapshots (oldest first) up into one
// aggregate record for [start, end). Cumulative counters (sessions,
// bytes, errors) are taken from each scope's latest sample; status
// tallies, peaks, and response-time samples accumulate across all
// samples in the period. Returns nil when no snapshots fall in the
// period.
func buildAggregate(snaps []*Snapshot, start, end time.Time) *store.Aggregate {
	if len(snaps) == 0 {
		return nil
	}

	agg := &store.Aggregate{
		PeriodStart: start,
		PeriodEnd:   end,
		Backends:    make(map[string]*store.ScopeRollup),
		Servers:     make(map[string]*store.ScopeRollup),
	}

	var rateTotal float64
	for _, snap := range snaps {
		agg.SampleCount++
		rateTotal += snap.Summary.RequestRate
		if snap.Summary.CurrentConnections > agg.PeakConnections {
			agg.PeakConnections = snap.Summary.CurrentConnections
		}

		for _, row := range snap.Rows {
			var rollup *store.ScopeRollup
			switch row.Type {
			case "backend":
				rollup = ensureRollup(agg.Backends, row.Name)
			case "server":
				rollup = ensureRollup(agg.Servers, row.BackendName+"/"+row.Name)
			default:
				continue
			}
			foldRow(rollup, row)
		}
	}

	agg.AvgRequestRate = rateTotal / float64(agg.SampleCount)

	for _, rollup := range agg.Backends {
		finishRollup(rollup)
	}
	for _, rollup := range agg.Servers {
		finishRollup(rollup)
	}
	return agg
}

func ensureRollup(m map[string]*store.ScopeRollup, key string) *store.ScopeRollup {
	rollup := m[key]
	if rollup == nil {
		rollup = &store.ScopeRollup{StatusCounts: make(map[string]int64)}
		m[key] = rollup
	}
	return rollup
}

func foldRow(rollup *store.ScopeRollup, row dataplane.StatRow) {
	rollup.StatusCounts[row.Status]++
	rollup.TotalSessions = row.TotalConnections
	rollup.TotalBytesIn = row.BytesIn
	rollup.TotalBytesOut = row.BytesOut
	rollup.TotalErrors = row.Responses4xx + row.Responses5xx
	if row.CurrentConnections > rollup.PeakConnections {
		rollup.PeakConnections = row.CurrentConnections
	}
	if row.ResponseTimeMs > 0 {
		rollup.ResponseTimeSamples = append(rollup.ResponseTimeSamples, row.ResponseTimeMs)
	}
}

func finishRollup(rollup *store.ScopeRollup) {
	if len(rollup.ResponseTimeSamples) == 0 {
		return
	}
	var total float64
	for _, v := range rollup.ResponseTimeSamples {
		total += v
	}
	rollup.AvgResponseTimeMs = total / float64(len(rollup.ResponseTimeSamples))
}
