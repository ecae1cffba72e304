package optimizer

import (
	"math"
	"sort"
)

// Weight bounds accepted by the proxy.
const (
	MinWeight = 1
	MaxWeight = 256
)

// ServerReading is one server's live performance sample, the input to
// weight computation.
type ServerReading struct {
	Backend            string
	Server             string
	ResponseTimeMs     float64
	ErrorRatePercent   float64
	CurrentConnections int64
	CurrentWeight      int
	Healthy            bool
}

// WeightSplit balances performance against instantaneous load when
// scoring servers. The two weights are expected to sum to at most 1
// but this is not enforced.
type WeightSplit struct {
	Performance float64
	Load        float64
}

// DefaultWeightSplit is the standard 70/30 performance/load split.
var DefaultWeightSplit = WeightSplit{Performance: 0.7, Load: 0.3}

// Decision is the computed outcome for one server. Ephemeral;
// recomputed every cycle.
type Decision struct {
	Backend string `json:"backend"`
	Server  string `json:"server"`

	ResponseTimeScore float64 `json:"response_time_score"`
	ErrorRateScore    float64 `json:"error_rate_score"`
	PerformanceScore  float64 `json:"performance_score"`
	FinalScore        float64 `json:"final_score"`

	CurrentWeight int `json:"current_weight"`
	TargetWeight  int `json:"target_weight"`
}

// Delta returns the absolute difference between target and current
// weight.
func (d Decision) Delta() int {
	delta := d.TargetWeight - d.CurrentWeight
	if delta < 0 {
		return -delta
	}
	return delta
}

// scoreServer computes the per-server scores from a reading. Faster
// responses, fewer errors, and fewer open connections all raise the
// final score.
func scoreServer(r ServerReading, split WeightSplit) (rts, ers, perf, final float64) {
	rts = 100 / (1 + math.Log10(1+r.ResponseTimeMs))
	ers = 100 - math.Min(100, r.ErrorRatePercent)
	perf = 0.6*rts + 0.4*ers
	final = split.Performance*perf + split.Load*(100/(1+float64(r.CurrentConnections)))
	return rts, ers, perf, final
}

// clampWeight bounds a computed weight to the proxy's accepted range.
func clampWeight(w int) int {
	if w < MinWeight {
		return MinWeight
	}
	if w > MaxWeight {
		return MaxWeight
	}
	return w
}

// ComputeOptimalWeights derives a target weight per healthy server. It
// is a pure function of the readings, the split, and the base weight:
// identical input always yields identical output.
//
// Servers are grouped by backend. Backends with one server or fewer,
// or with no healthy servers, produce no decisions (nothing to
// balance). Within a backend each healthy server's target weight is
// its share of the backend's total score, scaled by the healthy server
// count and the base weight, clamped to [MinWeight, MaxWeight].
func ComputeOptimalWeights(readings []ServerReading, split WeightSplit, baseWeight int) []Decision {
	if baseWeight <= 0 {
		baseWeight = 100
	}

	groups := make(map[string][]ServerReading)
	for _, r := range readings {
		groups[r.Backend] = append(groups[r.Backend], r)
	}

	backends := make([]string, 0, len(groups))
	for name := range groups {
		backends = append(backends, name)
	}
	sort.Strings(backends)

	var out []Decision
	for _, backend := range backends {
		group := groups[backend]
		if len(group) <= 1 {
			continue
		}

		healthy := group[:0:0]
		for _, r := range group {
			if r.Healthy {
				healthy = append(healthy, r)
			}
		}
		if len(healthy) == 0 {
			continue
		}

		decisions := make([]Decision, len(healthy))
		var totalScore float64
		for i, r := range healthy {
			rts, ers, perf, final := scoreServer(r, split)
			decisions[i] = Decision{
				Backend:           r.Backend,
				Server:            r.Server,
				ResponseTimeScore: rts,
				ErrorRateScore:    ers,
				PerformanceScore:  perf,
				FinalScore:        final,
				CurrentWeight:     r.CurrentWeight,
			}
			totalScore += final
		}
		if totalScore == 0 {
			continue
		}

		scale := float64(len(healthy)) * float64(baseWeight)
		for i := range decisions {
			share := decisions[i].FinalScore / totalScore
			decisions[i].TargetWeight = clampWeight(int(math.Round(share * scale)))
		}

		sort.Slice(decisions, func(i, j int) bool {
			return decisions[i].Server < decisions[j].Server
		})
		out = append(out, decisions...)
	}
	return out
}
