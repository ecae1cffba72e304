package metrics

import (
	"math"
	"time"
)

// Baseline is the running mean and standard deviation for one metric
// within one scope, computed over the retained series window.
// Baselines feed anomaly detection only; routing decisions never read
// them directly.
type Baseline struct {
	Scope     string    `json:"scope"`
	Metric    string    `json:"metric"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"std_dev"`
	Samples   int       `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// baselineKey identifies a baseline within the table.
func baselineKey(scope, metric string) string {
	return scope + "|" + metric
}

// meanStdDev returns the sample mean and population standard deviation
// of values.
func meanStdDev(values []float64) (mean, stddev float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// recomputeBaselines rebuilds the baseline table from the retained
// series rings. Series with fewer than minSamples samples produce no
// baseline.
func recomputeBaselines(series map[string]*seriesRing, minSamples int, now time.Time) map[string]Baseline {
	table := make(map[string]Baseline)
	for scope, ring := range series {
		if len(ring.samples) < minSamples {
			continue
		}
		for _, metric := range []string{
			MetricCurrentConnections,
			MetricRequestRate,
			MetricErrorRatePercent,
			MetricResponseTimeMs,
			MetricQueueDepth,
		} {
			values := ring.values(metric)
			if len(values) < minSamples {
				continue
			}
			mean, stddev := meanStdDev(values)
			table[baselineKey(scope, metric)] = Baseline{
				Scope:     scope,
				Metric:    metric,
				Mean:      mean,
				StdDev:    stddev,
				Samples:   len(values),
				UpdatedAt: now,
			}
		}
	}
	return table
}
