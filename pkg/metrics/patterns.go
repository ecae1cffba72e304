package metrics

import (
	"time"

	"tiller-hq/tiller/pkg/metrics/store"
)

// trafficPatterns accumulates request-rate observations by hour of day
// and day of week. State survives restarts through the metrics store.
// Not safe for concurrent use; the engine's mutex serializes access.
type trafficPatterns struct {
	state store.PatternState
}

// load replaces the accumulators with previously persisted state.
func (p *trafficPatterns) load(state *store.PatternState) {
	if state != nil {
		p.state = *state
	}
}

// observe folds one request-rate reading into the matching buckets.
func (p *trafficPatterns) observe(ts time.Time, rate float64) {
	hour := &p.state.HourOfDay[ts.Hour()]
	hour.Samples++
	hour.TotalRate += rate

	day := &p.state.DayOfWeek[int(ts.Weekday())]
	day.Samples++
	day.TotalRate += rate

	p.state.UpdatedAt = ts
}

// snapshot returns a copy of the accumulated state.
func (p *trafficPatterns) snapshot() *store.PatternState {
	cp := p.state
	return &cp
}

// expectedRate returns the historical mean request rate for the given
// moment, or zero when no history exists for its buckets. The hour
// bucket dominates; the weekday bucket fills in when the hour has no
// samples yet.
func (p *trafficPatterns) expectedRate(ts time.Time) float64 {
	if cell := p.state.HourOfDay[ts.Hour()]; cell.Samples > 0 {
		return cell.MeanRate()
	}
	return p.state.DayOfWeek[int(ts.Weekday())].MeanRate()
}
