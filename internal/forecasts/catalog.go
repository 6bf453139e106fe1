// Package forecasts turns the WPC QPF MapServer catalog and point samples into
// a single best 48-hour rainfall total for the watched location.
//
// The pure pieces (layer resolution, window aggregation, candidate selection)
// are plain functions over snapshots so they can be tested against fixture
// catalogs without HTTP. Service wires them to the MapServer client.
package forecasts

import (
	"sort"
	"strconv"
	"strings"

	"qpfwatch/internal/types"
)

// UnparseableStartHour sorts sublayers whose names do not follow the
// <prefix>_<start>-<end> pattern after every well-formed one.
const UnparseableStartHour = 9999

// FindLayerID returns the ID of the layer named exactly name. Top-level layers
// are searched first, then one level of nested subLayers. A missing layer is
// reported with ok == false and is never an error.
func FindLayerID(catalog types.LayerCatalog, name string) (id int, ok bool) {
	for _, l := range catalog.Layers {
		if l.Name == name {
			return l.ID, true
		}
	}
	for _, l := range catalog.Layers {
		for _, sub := range l.SubLayers {
			if sub.Name == name {
				return sub.ID, true
			}
		}
	}
	return 0, false
}

// DiscoverOrderedSublayers returns the layers whose parentLayerId is the ID of
// the layer named parentName, ordered by the start hour parsed from each name.
// Equal start hours keep catalog order. A missing parent yields nil.
func DiscoverOrderedSublayers(catalog types.LayerCatalog, parentName string) []types.LayerRef {
	parentID, ok := FindLayerID(catalog, parentName)
	if !ok {
		return nil
	}

	var out []types.LayerRef
	for _, l := range catalog.Layers {
		if l.ParentLayerID != nil && *l.ParentLayerID == parentID {
			out = append(out, types.LayerRef{ID: l.ID, Name: l.Name})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return StartHour(out[i].Name) < StartHour(out[j].Name)
	})
	return out
}

// StartHour parses the forecast hour a 6-hour sublayer begins at. The hour is
// the part before the first "-" of the token following the first "_", so
// "QPF_06-12" starts at 6. Anything else returns UnparseableStartHour.
func StartHour(name string) int {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return UnparseableStartHour
	}
	token, _, _ := strings.Cut(parts[1], "-")
	hour, err := strconv.Atoi(strings.TrimSpace(token))
	if err != nil {
		return UnparseableStartHour
	}
	return hour
}
