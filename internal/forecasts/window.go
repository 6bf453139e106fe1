package forecasts

import "qpfwatch/internal/types"

// DefaultWindowSamples is 48 hours of 6-hour intervals.
const DefaultWindowSamples = 8

// MaxWindow returns the largest sum over any width consecutive values, with
// the labels bounding it. The earliest start wins ties. With fewer than width
// values no window exists and the result has Found == false and a zero total.
//
// labels must be parallel to values.
func MaxWindow(values []float64, labels []string, width int) types.WindowResult {
	if width < 1 || len(values) < width {
		return types.WindowResult{}
	}

	best := types.WindowResult{Found: true, StartIndex: 0, Total: sum(values[:width])}
	for i := 1; i+width <= len(values); i++ {
		if total := sum(values[i : i+width]); total > best.Total {
			best.Total = total
			best.StartIndex = i
		}
	}

	if len(labels) == len(values) {
		best.StartLabel = labels[best.StartIndex]
		best.EndLabel = labels[best.StartIndex+width-1]
	}
	return best
}

// sum adds left to right. Windows are summed directly, never rolled.
func sum(vs []float64) float64 {
	var t float64
	for _, v := range vs {
		t += v
	}
	return t
}
