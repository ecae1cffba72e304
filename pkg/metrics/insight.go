package metrics

import (
	"fmt"
	"sort"
	"time"

	"tiller-hq/tiller/pkg/dataplane"
)

// PerformanceInsight is a derived health report for one backend.
type PerformanceInsight struct {
	// Backend is the backend name.
	Backend string `json:"backend"`

	// Score rates backend health from 0 (failing) to 100 (healthy).
	Score float64 `json:"score"`

	// Status is the backend's reported operational status.
	Status string `json:"status"`

	// ServersUp and ServerCount describe server availability.
	ServersUp   int `json:"servers_up"`
	ServerCount int `json:"server_count"`

	// ErrorRatePercent is the backend's 4xx+5xx response share.
	ErrorRatePercent float64 `json:"error_rate_percent"`

	// QueueDepth is the number of requests queued at the backend.
	QueueDepth int64 `json:"queue_depth"`

	// Recommendations lists suggested remediations, empty when healthy.
	Recommendations []string `json:"recommendations,omitempty"`

	// GeneratedAt is when the report was derived.
	GeneratedAt time.Time `json:"generated_at"`
}

// Scoring penalties. A backend that is down loses statusPenalty
// outright; the remaining factors scale with how bad they are.
const (
	statusPenalty    = 40.0
	downRatioPenalty = 30.0
	errorRatePenalty = 20.0
	queuePenalty     = 10.0
)

// computeInsights derives one report per backend from a snapshot's raw
// rows, sorted by backend name.
func computeInsights(snap *Snapshot) []PerformanceInsight {
	if snap == nil || len(snap.Rows) == 0 {
		return nil
	}

	type backendRows struct {
		backend dataplane.StatRow
		servers []dataplane.StatRow
	}
	byName := make(map[string]*backendRows)
	for _, row := range snap.Rows {
		switch row.Type {
		case "backend":
			br := byName[row.Name]
			if br == nil {
				br = &backendRows{}
				byName[row.Name] = br
			}
			br.backend = row
		case "server":
			br := byName[row.BackendName]
			if br == nil {
				br = &backendRows{}
				byName[row.BackendName] = br
			}
			br.servers = append(br.servers, row)
		}
	}

	out := make([]PerformanceInsight, 0, len(byName))
	for name, br := range byName {
		insight := PerformanceInsight{
			Backend:          name,
			Status:           br.backend.Status,
			ServerCount:      len(br.servers),
			ErrorRatePercent: br.backend.ErrorRatePercent(),
			QueueDepth:       br.backend.QueueDepth,
			GeneratedAt:      snap.Timestamp,
		}
		for _, s := range br.servers {
			if s.IsUp() {
				insight.ServersUp++
			}
		}

		score := 100.0

		if !br.backend.IsUp() {
			score -= statusPenalty
			insight.Recommendations = append(insight.Recommendations,
				"backend reports DOWN; verify server health checks and upstream reachability")
		}

		if insight.ServerCount > 0 {
			downRatio := float64(insight.ServerCount-insight.ServersUp) / float64(insight.ServerCount)
			score -= downRatioPenalty * downRatio
			if downRatio >= 0.5 {
				insight.Recommendations = append(insight.Recommendations,
					fmt.Sprintf("%d of %d servers are down; restore capacity before it saturates",
						insight.ServerCount-insight.ServersUp, insight.ServerCount))
			}
		}

		if insight.ErrorRatePercent > 0 {
			score -= errorRatePenalty * min(1, insight.ErrorRatePercent/25)
			if insight.ErrorRatePercent >= 5 {
				insight.Recommendations = append(insight.Recommendations,
					fmt.Sprintf("error rate %.1f%% is elevated; inspect application logs", insight.ErrorRatePercent))
			}
		}

		if insight.QueueDepth > 0 {
			score -= queuePenalty * min(1, float64(insight.QueueDepth)/100)
			insight.Recommendations = append(insight.Recommendations,
				fmt.Sprintf("%d requests queued; consider raising maxconn or adding servers", insight.QueueDepth))
		}

		insight.Score = max(0, min(100, score))
		out = append(out, insight)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}
