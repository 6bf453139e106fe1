package types

// LayerRef is the short form of a layer as it appears in a parent's subLayers.
type LayerRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Layer is one entry of the MapServer catalog. ParentLayerID is nil when the
// service omits the field; top-level layers normally report -1.
type Layer struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	ParentLayerID *int       `json:"parentLayerId,omitempty"`
	SubLayers     []LayerRef `json:"subLayers,omitempty"`
}

// LayerCatalog is the service description returned by `<service>?f=json`.
// Layer IDs are not stable across service republishes; names are.
type LayerCatalog struct {
	Layers []Layer `json:"layers"`
}

// SourceID names one forecast candidate considered by the selector.
type SourceID string

const (
	SourceSliding SourceID = "sliding_6h"
	SourceDay12   SourceID = "day1_2"
	SourceDay45   SourceID = "day4_5"
	SourceDay67   SourceID = "day6_7"
)

// WindowResult is the best contiguous run of 6-hour samples.
// Found is false when fewer samples than the window width were available.
type WindowResult struct {
	Total      float64
	StartIndex int
	StartLabel string
	EndLabel   string
	Found      bool
}

// Candidate is the outcome of evaluating one forecast source.
// Err is set when the source was attempted and failed; Available is false
// for both failed and skipped sources.
type Candidate struct {
	Source      SourceID
	Total       float64
	Description string
	Available   bool
	Attempted   bool
	Err         error
}

// BestForecast is the largest 48-hour total across all available candidates.
// Source is empty when no candidate beat 0.0.
type BestForecast struct {
	Total       float64
	Description string
	Source      SourceID
	Candidates  []Candidate
}

// Failures returns the candidates that were attempted and failed.
func (b BestForecast) Failures() []Candidate {
	var out []Candidate
	for _, c := range b.Candidates {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// AllAttemptedFailed reports whether at least one source was attempted and
// none of the attempted sources succeeded.
func (b BestForecast) AllAttemptedFailed() bool {
	attempted := 0
	for _, c := range b.Candidates {
		if !c.Attempted {
			continue
		}
		attempted++
		if c.Err == nil {
			return false
		}
	}
	return attempted > 0
}
