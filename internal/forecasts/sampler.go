package forecasts

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"qpfwatch/internal/external"
	"qpfwatch/internal/types"
)

// PointQuerier runs a point-intersection query against one layer.
// external.MapServerClient implements it.
type PointQuerier interface {
	QueryPoint(ctx context.Context, layerID int, lon, lat float64) ([]external.Feature, error)
}

// Extraction describes how a sample value was read from a query result.
type Extraction struct {
	Value float64
	// Attribute is the attribute the value came from, empty when no feature
	// or no numeric attribute was present.
	Attribute string
	// Fallback is true when the primary field was missing and the largest
	// numeric attribute was used instead.
	Fallback bool
}

// ExtractValue reads inches from the first feature of a query result.
//
// No features means 0.0. A numeric primary field wins. Otherwise, when
// allowFallback is set, the largest numeric attribute of the first feature is
// used; with no numeric attribute at all the value is 0.0. When allowFallback
// is false a missing primary field is an upstream_schema_unexpected error.
func ExtractValue(features []external.Feature, field string, allowFallback bool) (Extraction, error) {
	if len(features) == 0 {
		return Extraction{}, nil
	}
	attrs := features[0].Attributes

	if v, ok := numeric(attrs[field]); ok {
		return Extraction{Value: v, Attribute: field}, nil
	}

	if !allowFallback {
		return Extraction{}, types.NewAppError(
			types.ErrCodeUpstreamSchemaUnexpected,
			fmt.Sprintf("feature has no numeric %q attribute", field),
			nil,
		)
	}

	best := Extraction{Fallback: true}
	found := false
	for name, raw := range attrs {
		v, ok := numeric(raw)
		if !ok {
			continue
		}
		// Ties break on attribute name.
		if !found || v > best.Value || (v == best.Value && name < best.Attribute) {
			best.Value = v
			best.Attribute = name
			found = true
		}
	}
	return best, nil
}

func numeric(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Sampler reads one inches value per layer at a fixed coordinate.
type Sampler struct {
	querier       PointQuerier
	lon, lat      float64
	field         string
	allowFallback bool
	logger        *slog.Logger
}

// NewSampler creates a Sampler for the point (lon, lat).
func NewSampler(querier PointQuerier, lon, lat float64, field string, allowFallback bool, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		querier:       querier,
		lon:           lon,
		lat:           lat,
		field:         field,
		allowFallback: allowFallback,
		logger:        logger,
	}
}

// Sample queries layerID and returns a non-negative value in inches.
func (s *Sampler) Sample(ctx context.Context, layerID int) (float64, error) {
	features, err := s.querier.QueryPoint(ctx, layerID, s.lon, s.lat)
	if err != nil {
		return 0, err
	}

	ext, err := ExtractValue(features, s.field, s.allowFallback)
	if err != nil {
		return 0, fmt.Errorf("layer %d: %w", layerID, err)
	}

	if ext.Fallback {
		s.logger.WarnContext(ctx, "Primary QPF attribute missing; using largest numeric attribute",
			"layer_id", layerID,
			"expected_field", s.field,
			"attribute", ext.Attribute,
			"numeric_found", ext.Attribute != "",
			"value", ext.Value,
		)
	}

	if ext.Value < 0 {
		s.logger.WarnContext(ctx, "Negative QPF value treated as zero",
			"layer_id", layerID,
			"attribute", ext.Attribute,
			"value", ext.Value,
		)
		return 0, nil
	}
	return ext.Value, nil
}
