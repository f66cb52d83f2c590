// Package normalize maps upstream JSON payloads onto the canonical records.
//
// Every upstream record is decoded on its own. A record with a malformed, mistyped or
// missing required field is skipped and reported in Result.Skipped; the rest of the batch
// is still normalized.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/i474232898/air-weather-aggregation/internal/metrics"
	"github.com/i474232898/air-weather-aggregation/internal/records"
)

// Record kinds used in skip reports and metrics.
const (
	KindLatest     = "aq_latest"
	KindLocation   = "aq_location"
	KindHistorical = "aq_measurement"
	KindCurrent    = "weather_current"
	KindForecast   = "weather_forecast"

	// envelopeIndex marks a skip of the whole payload rather than one of its entries.
	envelopeIndex = -1
)

// Skip describes one upstream record that could not be normalized.
type Skip struct {
	Kind   string `json:"kind"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result holds the normalized records of one upstream batch together with the skipped ones.
type Result[T any] struct {
	Records []T
	Skipped []Skip
}

// LocationReadings is a Location with the pollutant measurements reported for it.
type LocationReadings struct {
	Location     records.Location      `json:"location"`
	Measurements []records.Measurement `json:"measurements"`
}

// WeatherReadings is a Location with the weather observations reported for it.
type WeatherReadings struct {
	Location     records.Location             `json:"location"`
	Observations []records.WeatherObservation `json:"observations"`
}

type collector[T any] struct {
	ctx  context.Context
	kind string
	res  Result[T]
}

func newCollector[T any](ctx context.Context, kind string) *collector[T] {
	return &collector[T]{ctx: ctx, kind: kind}
}

func (c *collector[T]) add(r T) {
	c.res.Records = append(c.res.Records, r)
}

func (c *collector[T]) skip(index int, format string, args ...any) {
	c.res.Skipped = append(c.res.Skipped, ReportSkip(c.ctx, c.kind, index, fmt.Sprintf(format, args...)))
}

// ReportSkip logs and counts one dropped record and returns its Skip entry.
func ReportSkip(ctx context.Context, kind string, index int, reason string) Skip {
	metrics.SkippedRecords.WithLabelValues(kind).Inc()
	zerolog.Ctx(ctx).Warn().Str("kind", kind).Int("index", index).Str("reason", reason).Msg("skipping record")
	return Skip{Kind: kind, Index: index, Reason: reason}
}

func (c *collector[T]) result() Result[T] {
	return c.res
}

// rawID reads an identifier that upstreams send either as a number or as a string.
func rawID(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id %s is neither a string nor a number", trimmed)
	}
	return n.String(), nil
}

// firstID returns the first non-empty id among aliased fields.
func firstID(raws ...json.RawMessage) (string, error) {
	for _, raw := range raws {
		id, err := rawID(raw)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}

// firstString returns the first non-blank value among aliased fields.
func firstString(values ...*string) string {
	for _, v := range values {
		if v != nil {
			if s := strings.TrimSpace(*v); s != "" {
				return s
			}
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// canonicalParameter folds upstream spellings such as "PM2.5" into "pm25".
func canonicalParameter(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	return strings.ReplaceAll(p, ".", "")
}
