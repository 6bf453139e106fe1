package forecasts

import (
	"fmt"

	"qpfwatch/internal/types"
)

// SlidingDescription is the human-readable text for a sliding-window result.
func SlidingDescription(w types.WindowResult, width int) string {
	return fmt.Sprintf("Sliding %dh (6h intervals): %s → %s total=%.2f\" (Days 1–3)",
		width*6, w.StartLabel, w.EndLabel, w.Total)
}

// FixedDescription is the human-readable text for a fixed 48-hour layer.
func FixedDescription(days string, total float64) string {
	return fmt.Sprintf("Fixed 48h: Day %s total=%.2f\"", days, total)
}

// SelectBest picks the largest total among available candidates. Candidates
// must be in precedence order; a later one replaces the current best only if
// strictly greater, so earlier candidates win ties. The search starts from
// 0.0, so if nothing is available or everything is zero the result is 0.0
// with no description.
func SelectBest(candidates []types.Candidate) types.BestForecast {
	best := types.BestForecast{Candidates: candidates}
	for _, c := range candidates {
		if !c.Available {
			continue
		}
		if c.Total > best.Total {
			best.Total = c.Total
			best.Description = c.Description
			best.Source = c.Source
		}
	}
	return best
}
