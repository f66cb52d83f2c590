package providers

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// DefaultOpenWeatherBaseURL is the OpenWeatherMap 2.5 API root.
const DefaultOpenWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherProvider reads the OpenWeatherMap current weather and 5 day / 3 hour forecast endpoints.
type OpenWeatherProvider struct {
	upstream
}

// NewOpenWeatherProvider fails with a *ConfigError when apiKey is empty.
func NewOpenWeatherProvider(cfg HTTPClientConfig, baseURL, apiKey string) (*OpenWeatherProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Key: "OPENWEATHER_API_KEY"}
	}
	if baseURL == "" {
		baseURL = DefaultOpenWeatherBaseURL
	}

	return &OpenWeatherProvider{
		upstream: upstream{
			name:     "openweathermap",
			baseURL:  baseURL,
			apiKey:   apiKey,
			keyParam: "appid",
			httpCfg:  cfg,
			circuit:  newCircuitBreaker("openweather"),
		},
	}, nil
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// Current fetches the current conditions at c.
func (p *OpenWeatherProvider) Current(ctx context.Context, c Coordinates, units string) (json.RawMessage, error) {
	return p.fetch(ctx, "weather", coordinateValues(c, units))
}

// Forecast fetches cnt 3-hour forecast steps at c.
func (p *OpenWeatherProvider) Forecast(ctx context.Context, c Coordinates, units string, cnt int) (json.RawMessage, error) {
	values := coordinateValues(c, units)
	values.Set("cnt", strconv.Itoa(cnt))
	return p.fetch(ctx, "forecast", values)
}

func coordinateValues(c Coordinates, units string) url.Values {
	values := url.Values{}
	values.Set("lat", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	values.Set("lon", strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	values.Set("units", units)
	return values
}
