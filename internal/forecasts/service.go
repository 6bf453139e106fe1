package forecasts

import (
	"context"
	"fmt"
	"log/slog"

	"qpfwatch/internal/types"
)

// CatalogFetcher retrieves the MapServer layer catalog.
type CatalogFetcher interface {
	FetchCatalog(ctx context.Context) (types.LayerCatalog, error)
}

// LayerNames are the catalog names resolved on every run.
type LayerNames struct {
	Day12         string
	Day45         string
	Day67         string
	SixHourParent string
}

type fixedLayer struct {
	source types.SourceID
	name   string
	days   string
}

// Service computes the best 48-hour forecast total for one point.
type Service struct {
	catalog       CatalogFetcher
	sampler       *Sampler
	names         LayerNames
	windowSamples int
	logger        *slog.Logger
}

// NewService creates a Service. windowSamples below 1 uses DefaultWindowSamples.
func NewService(catalog CatalogFetcher, sampler *Sampler, names LayerNames, windowSamples int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if windowSamples < 1 {
		windowSamples = DefaultWindowSamples
	}
	return &Service{
		catalog:       catalog,
		sampler:       sampler,
		names:         names,
		windowSamples: windowSamples,
		logger:        logger,
	}
}

// BestForecast fetches the catalog, evaluates every source in precedence order
// (sliding window, Day 1-2, Day 4-5, Day 6-7) and selects the largest total.
//
// Sources fail independently: a failed query marks that source unavailable
// and the others still count. The call itself fails only when the catalog
// cannot be read or when every attempted source failed, since reporting 0.0
// during a total outage would wrongly clear an active alert.
func (s *Service) BestForecast(ctx context.Context) (types.BestForecast, error) {
	catalog, err := s.catalog.FetchCatalog(ctx)
	if err != nil {
		return types.BestForecast{}, fmt.Errorf("fetch layer catalog: %w", err)
	}

	candidates := []types.Candidate{s.evaluateSliding(ctx, catalog)}
	for _, fl := range []fixedLayer{
		{source: types.SourceDay12, name: s.names.Day12, days: "1–2"},
		{source: types.SourceDay45, name: s.names.Day45, days: "4–5"},
		{source: types.SourceDay67, name: s.names.Day67, days: "6–7"},
	} {
		candidates = append(candidates, s.evaluateFixed(ctx, catalog, fl))
	}

	best := SelectBest(candidates)

	if best.AllAttemptedFailed() {
		failures := best.Failures()
		return best, types.NewAppError(
			types.ErrCodeUpstreamForecast,
			fmt.Sprintf("all %d attempted forecast sources failed", len(failures)),
			failures[0].Err,
		)
	}
	return best, nil
}

func (s *Service) evaluateSliding(ctx context.Context, catalog types.LayerCatalog) types.Candidate {
	c := types.Candidate{Source: types.SourceSliding}

	sublayers := DiscoverOrderedSublayers(catalog, s.names.SixHourParent)
	if len(sublayers) < s.windowSamples {
		s.logger.InfoContext(ctx, "Sliding window skipped",
			"parent", s.names.SixHourParent,
			"sublayers", len(sublayers),
			"window_samples", s.windowSamples,
		)
		return c
	}

	c.Attempted = true
	values := make([]float64, 0, len(sublayers))
	labels := make([]string, 0, len(sublayers))
	for _, sub := range sublayers {
		v, err := s.sampler.Sample(ctx, sub.ID)
		if err != nil {
			// A gap would make the remaining samples non-contiguous.
			c.Err = err
			s.logger.WarnContext(ctx, "Sliding window source unavailable",
				"layer_id", sub.ID,
				"layer_name", sub.Name,
				"error", err,
			)
			return c
		}
		values = append(values, v)
		labels = append(labels, sub.Name)
	}

	w := MaxWindow(values, labels, s.windowSamples)
	c.Available = w.Found
	c.Total = w.Total
	c.Description = SlidingDescription(w, s.windowSamples)

	s.logger.DebugContext(ctx, "Sliding window evaluated",
		"total", w.Total,
		"start", w.StartLabel,
		"end", w.EndLabel,
	)
	return c
}

func (s *Service) evaluateFixed(ctx context.Context, catalog types.LayerCatalog, fl fixedLayer) types.Candidate {
	c := types.Candidate{Source: fl.source}

	id, ok := FindLayerID(catalog, fl.name)
	if !ok {
		s.logger.InfoContext(ctx, "Layer not in catalog; skipping", "layer_name", fl.name)
		return c
	}

	c.Attempted = true
	v, err := s.sampler.Sample(ctx, id)
	if err != nil {
		c.Err = err
		s.logger.WarnContext(ctx, "Fixed window source unavailable",
			"layer_id", id,
			"layer_name", fl.name,
			"error", err,
		)
		return c
	}

	c.Available = true
	c.Total = v
	c.Description = FixedDescription(fl.days, v)
	return c
}
