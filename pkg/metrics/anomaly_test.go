package metrics

import (
	"testing"
	"time"
)

func TestDetectAnomaliesThresholdBoundary(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	baselines := map[string]Baseline{
		baselineKey("backend/web", MetricResponseTimeMs): {
			Scope:  "backend/web",
			Metric: MetricResponseTimeMs,
			Mean:   100,
			StdDev: 10,
		},
	}

	tests := []struct {
		name    string
		value   float64
		flagged bool
	}{
		{"exactly at threshold", 125, true},           // z = 2.5
		{"just below threshold", 124.9, false},        // z = 2.49
		{"well above threshold", 180, true},           // z = 8
		{"low side at threshold", 75, true},           // z = -2.5
		{"low side below threshold", 75.1, false},     // z = -2.49
		{"unremarkable value", 105, false},            // z = 0.5
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scopes := map[string]map[string]float64{
				"backend/web": {MetricResponseTimeMs: tt.value},
			}
			got := detectAnomalies(baselines, scopes, 2.5, 0.01, now)
			if flagged := len(got) == 1; flagged != tt.flagged {
				t.Errorf("value %.1f flagged = %v, want %v", tt.value, flagged, tt.flagged)
			}
		})
	}
}

func TestDetectAnomaliesDirection(t *testing.T) {
	now := time.Now()
	baselines := map[string]Baseline{
		baselineKey("backend/web", MetricRequestRate): {Mean: 100, StdDev: 10},
	}

	high := detectAnomalies(baselines, map[string]map[string]float64{
		"backend/web": {MetricRequestRate: 150},
	}, 2.5, 0.01, now)
	if len(high) != 1 || high[0].Direction != DirectionHigh {
		t.Errorf("expected a high-direction anomaly, got %+v", high)
	}

	low := detectAnomalies(baselines, map[string]map[string]float64{
		"backend/web": {MetricRequestRate: 50},
	}, 2.5, 0.01, now)
	if len(low) != 1 || low[0].Direction != DirectionLow {
		t.Errorf("expected a low-direction anomaly, got %+v", low)
	}
	if low[0].ZScore != -5 {
		t.Errorf("z-score = %.2f, want -5", low[0].ZScore)
	}
}

func TestDetectAnomaliesNoiseFloor(t *testing.T) {
	now := time.Now()
	baselines := map[string]Baseline{
		baselineKey("backend/web", MetricErrorRatePercent): {Mean: 0, StdDev: 0.005},
	}
	scopes := map[string]map[string]float64{
		"backend/web": {MetricErrorRatePercent: 10},
	}

	if got := detectAnomalies(baselines, scopes, 2.5, 0.01, now); len(got) != 0 {
		t.Errorf("expected flat series below the noise floor to be skipped, got %+v", got)
	}
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name string
		absZ float64
		want Severity
	}{
		{"at threshold", 2.5, SeverityMinor},
		{"below major band", 3.74, SeverityMinor},
		{"at major band", 3.75, SeverityMajor},
		{"below critical band", 4.99, SeverityMajor},
		{"at critical band", 5.0, SeverityCritical},
		{"far past critical", 12, SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifySeverity(tt.absZ, 2.5); got != tt.want {
				t.Errorf("classifySeverity(%.2f) = %s, want %s", tt.absZ, got, tt.want)
			}
		})
	}
}

func TestAnomalyLogBounded(t *testing.T) {
	log := newAnomalyLog(3)

	for i := 0; i < 5; i++ {
		log.append([]Anomaly{{Scope: "backend/web", Value: float64(i)}})
	}

	got := log.slice(0)
	if len(got) != 3 {
		t.Fatalf("expected log bounded to 3, got %d", len(got))
	}
	// Most recent first
	if got[0].Value != 4 || got[2].Value != 2 {
		t.Errorf("expected most-recent-first order, got %v %v %v",
			got[0].Value, got[1].Value, got[2].Value)
	}

	if limited := log.slice(2); len(limited) != 2 || limited[0].Value != 4 {
		t.Errorf("expected limit to keep the newest entries, got %+v", limited)
	}
}

func TestMeanStdDev(t *testing.T) {
	mean, stddev := meanStdDev([]float64{90, 100, 110, 90, 110})
	if mean != 100 {
		t.Errorf("mean = %.2f, want 100", mean)
	}
	if stddev < 8.94 || stddev > 8.95 {
		t.Errorf("stddev = %.4f, want ~8.944", stddev)
	}

	mean, stddev = meanStdDev(nil)
	if mean != 0 || stddev != 0 {
		t.Errorf("empty input = %.2f/%.2f, want 0/0", mean, stddev)
	}
}
