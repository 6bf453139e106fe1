package forecasts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"qpfwatch/internal/external"
	"qpfwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func feature(attrs map[string]any) []external.Feature {
	return []external.Feature{{Attributes: attrs}}
}

// fakeQuerier answers QueryPoint from a table keyed by layer ID.
type fakeQuerier struct {
	features map[int][]external.Feature
	errs     map[int]error
	calls    []int
}

func (f *fakeQuerier) QueryPoint(_ context.Context, layerID int, _, _ float64) ([]external.Feature, error) {
	f.calls = append(f.calls, layerID)
	if err, ok := f.errs[layerID]; ok {
		return nil, err
	}
	return f.features[layerID], nil
}

func TestExtractValue(t *testing.T) {
	tests := []struct {
		name     string
		features []external.Feature
		fallback bool
		want     Extraction
	}{
		{
			name: "no features",
			want: Extraction{},
		},
		{
			name:     "primary field",
			features: feature(map[string]any{"qpf": 0.42, "objectid": 17.0}),
			want:     Extraction{Value: 0.42, Attribute: "qpf"},
		},
		{
			name:     "integer primary field",
			features: feature(map[string]any{"qpf": 2}),
			want:     Extraction{Value: 2, Attribute: "qpf"},
		},
		{
			name:     "fallback to largest numeric",
			features: feature(map[string]any{"QPF_IN": 0.8, "hours": 48.0, "label": "0.75-1.00"}),
			fallback: true,
			want:     Extraction{Value: 48, Attribute: "hours", Fallback: true},
		},
		{
			name:     "non numeric primary falls back",
			features: feature(map[string]any{"qpf": "0.5", "value": 0.3}),
			fallback: true,
			want:     Extraction{Value: 0.3, Attribute: "value", Fallback: true},
		},
		{
			name:     "no numeric attributes",
			features: feature(map[string]any{"label": "none", "flag": true}),
			fallback: true,
			want:     Extraction{Fallback: true},
		},
		{
			name: "only first feature considered",
			features: []external.Feature{
				{Attributes: map[string]any{"qpf": 0.1}},
				{Attributes: map[string]any{"qpf": 9.9}},
			},
			want: Extraction{Value: 0.1, Attribute: "qpf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractValue(tt.features, "qpf", tt.fallback)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractValueFallbackDisabled(t *testing.T) {
	_, err := ExtractValue(feature(map[string]any{"value": 0.3}), "qpf", false)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamSchemaUnexpected, appErr.Code)

	got, err := ExtractValue(nil, "qpf", false)
	require.NoError(t, err, "an empty result is zero rain, not schema drift")
	assert.Equal(t, 0.0, got.Value)
}

func TestSamplerLogsSchemaDrift(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	querier := &fakeQuerier{features: map[int][]external.Feature{
		4: feature(map[string]any{"amount": 0.6}),
	}}

	v, err := NewSampler(querier, -77.3, 38.8, "qpf", true, logger).Sample(context.Background(), 4)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v, 1e-9)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "layer_id=4")
	assert.Contains(t, buf.String(), "attribute=amount")
}

func TestSamplerLogsSchemaDriftWithoutNumericAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	querier := &fakeQuerier{features: map[int][]external.Feature{
		4: feature(map[string]any{"QPF_RENAMED": "0.55", "label": "x"}),
	}}

	v, err := NewSampler(querier, -77.3, 38.8, "qpf", true, logger).Sample(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "layer_id=4")
	assert.Contains(t, buf.String(), "attribute=\"\"")
	assert.Contains(t, buf.String(), "numeric_found=false")
}

func TestSamplerPrimaryFieldDoesNotWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	querier := &fakeQuerier{features: map[int][]external.Feature{
		4: feature(map[string]any{"qpf": 0.4}),
		5: nil,
	}}

	s := NewSampler(querier, -77.3, 38.8, "qpf", true, logger)
	_, err := s.Sample(context.Background(), 4)
	require.NoError(t, err)
	_, err = s.Sample(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "an empty result is not schema drift")
}

func TestSamplerClampsNegativeValues(t *testing.T) {
	querier := &fakeQuerier{features: map[int][]external.Feature{
		4: feature(map[string]any{"qpf": -9999.0}),
	}}

	v, err := NewSampler(querier, -77.3, 38.8, "qpf", true, discardLogger()).Sample(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestSamplerPropagatesQueryErrors(t *testing.T) {
	boom := types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil)
	querier := &fakeQuerier{errs: map[int]error{4: boom}}

	_, err := NewSampler(querier, -77.3, 38.8, "qpf", true, discardLogger()).Sample(context.Background(), 4)
	assert.ErrorIs(t, err, boom)
}
