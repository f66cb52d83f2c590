package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DefaultOpenAQBaseURL is the OpenAQ v2 API root.
const DefaultOpenAQBaseURL = "https://api.openaq.org/v2"

// OpenAQProvider reads the OpenAQ list endpoints. The API key is optional.
type OpenAQProvider struct {
	upstream
}

// LatestParams selects locations for the latest endpoint by city or by coordinates.
type LatestParams struct {
	City        string
	Country     string
	Coordinates *Coordinates
}

// LocationsParams filters the locations endpoint.
type LocationsParams struct {
	City    string
	Country string
	Limit   int
}

// MeasurementsParams selects the historical measurements of one upstream location.
type MeasurementsParams struct {
	LocationID string
	DateFrom   time.Time
	DateTo     time.Time
	Limit      int
}

func NewOpenAQProvider(cfg HTTPClientConfig, baseURL, apiKey string) *OpenAQProvider {
	if baseURL == "" {
		baseURL = DefaultOpenAQBaseURL
	}
	return &OpenAQProvider{
		upstream: upstream{
			name:      "openaq",
			baseURL:   baseURL,
			apiKey:    apiKey,
			keyHeader: "X-API-Key",
			httpCfg:   cfg,
			circuit:   newCircuitBreaker("openaq"),
		},
	}
}

func (p *OpenAQProvider) Name() string {
	return p.name
}

// Latest returns the raw result objects of the latest endpoint.
func (p *OpenAQProvider) Latest(ctx context.Context, params LatestParams) ([]json.RawMessage, error) {
	values := url.Values{}
	switch {
	case params.City != "":
		values.Set("city", params.City)
	case params.Coordinates != nil:
		values.Set("coordinates", formatCoordinates(*params.Coordinates))
	}
	if params.Country != "" {
		values.Set("country", params.Country)
	}
	return p.results(ctx, "latest", values)
}

// Locations returns the raw result objects of the locations endpoint.
func (p *OpenAQProvider) Locations(ctx context.Context, params LocationsParams) ([]json.RawMessage, error) {
	values := url.Values{}
	values.Set("limit", strconv.Itoa(params.Limit))
	if params.City != "" {
		values.Set("city", params.City)
	}
	if params.Country != "" {
		values.Set("country", params.Country)
	}
	return p.results(ctx, "locations", values)
}

// Measurements returns the raw result objects of the measurements endpoint.
func (p *OpenAQProvider) Measurements(ctx context.Context, params MeasurementsParams) ([]json.RawMessage, error) {
	values := url.Values{}
	values.Set("location_id", params.LocationID)
	values.Set("limit", strconv.Itoa(params.Limit))
	if !params.DateFrom.IsZero() {
		values.Set("date_from", params.DateFrom.UTC().Format(time.RFC3339))
	}
	if !params.DateTo.IsZero() {
		values.Set("date_to", params.DateTo.UTC().Format(time.RFC3339))
	}
	return p.results(ctx, "measurements", values)
}

// results unwraps the {"results": [...]} envelope shared by the OpenAQ list endpoints.
func (p *OpenAQProvider) results(ctx context.Context, endpoint string, values url.Values) ([]json.RawMessage, error) {
	body, err := p.fetch(ctx, endpoint, values)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &UpstreamError{Source: p.name, Endpoint: endpoint, Status: 200, Err: fmt.Errorf("%w: %v", errMalformedBody, err)}
	}
	return envelope.Results, nil
}

func formatCoordinates(c Coordinates) string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}
