package forecasts

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelsFor(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("QPF_%02d-%02d", i*6, i*6+6)
	}
	return labels
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMaxWindowFirstMaximumWins(t *testing.T) {
	values := append(append(repeat(0.1, 4), repeat(0.2, 4)...), repeat(0.05, 4)...)

	got := MaxWindow(values, labelsFor(len(values)), 8)

	require.True(t, got.Found)
	// Window 0-7 (0.4 + 0.8) beats 4-11 (0.8 + 0.2).
	assert.InDelta(t, 1.20, got.Total, 1e-9)
	assert.Equal(t, 0, got.StartIndex)
	assert.Equal(t, "QPF_00-06", got.StartLabel)
	assert.Equal(t, "QPF_42-48", got.EndLabel)
}

func TestMaxWindowLaterPeak(t *testing.T) {
	values := append(repeat(0.0, 4), repeat(0.25, 8)...)

	got := MaxWindow(values, labelsFor(len(values)), 8)

	require.True(t, got.Found)
	assert.InDelta(t, 2.0, got.Total, 1e-9)
	assert.Equal(t, 4, got.StartIndex)
	assert.Equal(t, "QPF_24-30", got.StartLabel)
	assert.Equal(t, "QPF_66-72", got.EndLabel)
}

func TestMaxWindowTiesKeepEarliestStart(t *testing.T) {
	got := MaxWindow(repeat(0.1, 12), labelsFor(12), 8)
	assert.Equal(t, 0, got.StartIndex)

	zeros := MaxWindow(repeat(0, 10), labelsFor(10), 8)
	assert.True(t, zeros.Found)
	assert.Equal(t, 0.0, zeros.Total)
	assert.Equal(t, 0, zeros.StartIndex)
}

func TestMaxWindowTooFewSamples(t *testing.T) {
	for n := 0; n < 8; n++ {
		got := MaxWindow(repeat(1.0, n), labelsFor(n), 8)
		assert.False(t, got.Found, "n=%d", n)
		assert.Equal(t, 0.0, got.Total, "n=%d must not return a partial sum", n)
		assert.Empty(t, got.StartLabel)
	}
}

func TestMaxWindowExactlyWidth(t *testing.T) {
	got := MaxWindow(repeat(0.5, 8), labelsFor(8), 8)
	require.True(t, got.Found)
	assert.InDelta(t, 4.0, got.Total, 1e-9)
	assert.Equal(t, "QPF_00-06", got.StartLabel)
	assert.Equal(t, "QPF_42-48", got.EndLabel)
}

func TestMaxWindowMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	for trial := 0; trial < 500; trial++ {
		n := 8 + rng.IntN(12)
		values := make([]float64, n)
		for i := range values {
			// Coarse quarters make ties common.
			values[i] = float64(rng.IntN(4)) * 0.25
		}

		wantTotal, wantStart := -1.0, -1
		for i := 0; i+8 <= n; i++ {
			if s := sum(values[i : i+8]); s > wantTotal {
				wantTotal, wantStart = s, i
			}
		}

		got := MaxWindow(values, labelsFor(n), 8)
		require.True(t, got.Found)
		require.Equal(t, wantTotal, got.Total, "trial %d values %v", trial, values)
		require.Equal(t, wantStart, got.StartIndex, "trial %d values %v", trial, values)
	}
}

func TestMaxWindowCustomWidth(t *testing.T) {
	got := MaxWindow([]float64{0.1, 0.9, 0.2, 0.8}, labelsFor(4), 2)
	require.True(t, got.Found)
	assert.InDelta(t, 1.1, got.Total, 1e-9)
	assert.Equal(t, 1, got.StartIndex)
}

func TestMaxWindowWithoutLabels(t *testing.T) {
	got := MaxWindow(repeat(0.1, 8), nil, 8)
	assert.True(t, got.Found)
	assert.Empty(t, got.StartLabel)
	assert.Empty(t, got.EndLabel)
}
