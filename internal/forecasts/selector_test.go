package forecasts

import (
	"testing"

	"qpfwatch/internal/types"

	"github.com/stretchr/testify/assert"
)

func avail(src types.SourceID, total float64) types.Candidate {
	return types.Candidate{Source: src, Total: total, Description: string(src), Available: true, Attempted: true}
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name       string
		candidates []types.Candidate
		wantTotal  float64
		wantSource types.SourceID
	}{
		{
			name: "largest wins",
			candidates: []types.Candidate{
				avail(types.SourceSliding, 0.4), avail(types.SourceDay12, 0.9),
				avail(types.SourceDay45, 0.2), avail(types.SourceDay67, 0.5),
			},
			wantTotal:  0.9,
			wantSource: types.SourceDay12,
		},
		{
			name: "tie keeps earlier source",
			candidates: []types.Candidate{
				avail(types.SourceSliding, 0.7), avail(types.SourceDay12, 0.7),
			},
			wantTotal:  0.7,
			wantSource: types.SourceSliding,
		},
		{
			name: "unavailable sources ignored",
			candidates: []types.Candidate{
				{Source: types.SourceSliding, Total: 5, Description: "ignored"},
				avail(types.SourceDay12, 0.3),
				{Source: types.SourceDay45},
				avail(types.SourceDay67, 0.1),
			},
			wantTotal:  0.3,
			wantSource: types.SourceDay12,
		},
		{
			name:       "nothing available",
			candidates: []types.Candidate{{Source: types.SourceSliding}, {Source: types.SourceDay12}},
			wantTotal:  0,
		},
		{
			name:       "all zero",
			candidates: []types.Candidate{avail(types.SourceSliding, 0), avail(types.SourceDay12, 0)},
			wantTotal:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectBest(tt.candidates)
			assert.InDelta(t, tt.wantTotal, got.Total, 1e-9)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, string(tt.wantSource), got.Description)
			assert.Equal(t, tt.candidates, got.Candidates)
		})
	}
}

func TestDescriptions(t *testing.T) {
	w := types.WindowResult{Total: 1.234, StartLabel: "QPF_00-06", EndLabel: "QPF_42-48", Found: true}
	assert.Equal(t, `Sliding 48h (6h intervals): QPF_00-06 → QPF_42-48 total=1.23" (Days 1–3)`, SlidingDescription(w, 8))
	assert.Equal(t, `Fixed 48h: Day 4–5 total=0.50"`, FixedDescription("4–5", 0.5))
}
