package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"qpfwatch/internal/types"
)

// maxPayloadBytes bounds a single MapServer response.
const maxPayloadBytes = 16 << 20

// Feature is one record returned by a layer query. Only attributes are
// requested; geometry is never returned.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
}

type queryResponse struct {
	Features []Feature `json:"features"`
}

// arcgisError is the envelope ArcGIS returns, often with HTTP 200, when a
// request fails server-side.
type arcgisError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

type errorEnvelope struct {
	Error *arcgisError `json:"error"`
}

// PayloadRecorder receives every raw upstream body. PayloadArchive implements it.
type PayloadRecorder interface {
	Record(ctx context.Context, label string, body []byte) error
}

// MapServerClient reads the WPC QPF ArcGIS MapServer.
type MapServerClient struct {
	base       *BaseClient
	serviceURL string
	recorder   PayloadRecorder
	logger     *slog.Logger
}

// MapServerOption configures a MapServerClient.
type MapServerOption func(*MapServerClient)

// WithPayloadRecorder archives every successfully read response body.
func WithPayloadRecorder(r PayloadRecorder) MapServerOption {
	return func(c *MapServerClient) {
		c.recorder = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) MapServerOption {
	return func(c *MapServerClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewMapServerClient creates a client for the service rooted at serviceURL,
// e.g. https://mapservices.weather.noaa.gov/vector/rest/services/precip/wpc_qpf/MapServer.
func NewMapServerClient(base *BaseClient, serviceURL string, opts ...MapServerOption) *MapServerClient {
	c := &MapServerClient{
		base:       base,
		serviceURL: strings.TrimRight(serviceURL, "/"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCatalog retrieves the service description listing every layer.
func (c *MapServerClient) FetchCatalog(ctx context.Context) (types.LayerCatalog, error) {
	var catalog types.LayerCatalog
	if err := c.getJSON(ctx, c.serviceURL+"?f=json", "catalog", &catalog); err != nil {
		return types.LayerCatalog{}, err
	}
	return catalog, nil
}

// QueryPoint runs a spatial-intersection query against one layer at (lon, lat)
// in WGS84 and returns the attributes of every intersecting feature.
func (c *MapServerClient) QueryPoint(ctx context.Context, layerID int, lon, lat float64) ([]Feature, error) {
	u := fmt.Sprintf("%s/%d/query?%s", c.serviceURL, layerID, PointQuery(lon, lat).Encode())

	var out queryResponse
	if err := c.getJSON(ctx, u, "layer_"+strconv.Itoa(layerID), &out); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, appErr.WithDetails(map[string]any{"layer_id": layerID})
		}
		return nil, err
	}
	return out.Features, nil
}

// PointQuery builds the query parameters for an attributes-only point
// intersection in EPSG:4326.
func PointQuery(lon, lat float64) url.Values {
	geometry := fmt.Sprintf(`{"x":%s,"y":%s,"spatialReference":{"wkid":4326}}`,
		strconv.FormatFloat(lon, 'f', -1, 64), strconv.FormatFloat(lat, 'f', -1, 64))

	q := url.Values{}
	q.Set("where", "1=1")
	q.Set("geometry", geometry)
	q.Set("geometryType", "esriGeometryPoint")
	q.Set("inSR", "4326")
	q.Set("spatialRel", "esriSpatialRelIntersects")
	q.Set("outFields", "*")
	q.Set("returnGeometry", "false")
	q.Set("outSR", "4326")
	q.Set("f", "json")
	return q
}

func (c *MapServerClient) getJSON(ctx context.Context, rawURL, label string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build upstream request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s request returned %d", label, resp.StatusCode),
			nil,
		).WithDetails(map[string]any{"status": resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to read "+label+" response", err)
	}

	if c.recorder != nil {
		if recErr := c.recorder.Record(ctx, label, body); recErr != nil {
			c.logger.WarnContext(ctx, "Failed to archive upstream payload", "label", label, "error", recErr)
		}
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamSchemaUnexpected, label+" response is not valid JSON", err)
	}
	if envelope.Error != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamForecast,
			fmt.Sprintf("%s request failed upstream: %s", label, envelope.Error.Message),
			nil,
		).WithDetails(map[string]any{"arcgis_code": envelope.Error.Code})
	}

	if err := json.Unmarshal(body, out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamSchemaUnexpected, label+" response has unexpected shape", err)
	}
	return nil
}
