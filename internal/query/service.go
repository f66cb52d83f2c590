// Package query validates caller criteria, calls the matching upstream and returns
// normalized canonical records. Persisting them is left to an optional Sink.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/air-weather-aggregation/internal/normalize"
	"github.com/i474232898/air-weather-aggregation/internal/providers"
	"github.com/i474232898/air-weather-aggregation/internal/records"
	"github.com/i474232898/air-weather-aggregation/internal/store"
)

// Results of the upstream-backed operations.
type (
	AirQualityResult = normalize.Result[normalize.LocationReadings]
	LocationsResult  = normalize.Result[records.Location]
	WeatherResult    = normalize.Result[normalize.WeatherReadings]
)

// ErrNoStore is returned by the stored history operations when no store is configured.
var ErrNoStore = errors.New("no store configured")

// AirQualitySource abstracts the air quality upstream (OpenAQ).
type AirQualitySource interface {
	Latest(ctx context.Context, params providers.LatestParams) ([]json.RawMessage, error)
	Locations(ctx context.Context, params providers.LocationsParams) ([]json.RawMessage, error)
	Measurements(ctx context.Context, params providers.MeasurementsParams) ([]json.RawMessage, error)
}

// WeatherSource abstracts the weather upstream (OpenWeatherMap).
type WeatherSource interface {
	Current(ctx context.Context, c providers.Coordinates, units string) (json.RawMessage, error)
	Forecast(ctx context.Context, c providers.Coordinates, units string, cnt int) (json.RawMessage, error)
}

// Sink is invoked once per normalized record group. It returns the group as stored,
// with canonical ids filled in.
type Sink interface {
	RecordAirQuality(ctx context.Context, readings normalize.LocationReadings) (normalize.LocationReadings, error)
	RecordWeather(ctx context.Context, readings normalize.WeatherReadings) (normalize.WeatherReadings, error)
}

// Service answers air quality and weather queries.
type Service struct {
	airQuality AirQualitySource
	weather    WeatherSource
	store      store.Store
	sink       Sink
	now        func() time.Time
}

type Option func(*Service)

// WithStore enables the stored history operations.
func WithStore(s store.Store) Option {
	return func(svc *Service) {
		svc.store = s
	}
}

// NewService creates a new Service.
func NewService(aq AirQualitySource, weather WeatherSource, opts ...Option) *Service {
	svc := &Service{
		airQuality: aq,
		weather:    weather,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithSink returns a copy of the service that hands every normalized record group to sink.
func (s *Service) WithSink(sink Sink) *Service {
	cp := *s
	cp.sink = sink
	return &cp
}

// LatestAirQuality returns the latest measurements by city or coordinates.
func (s *Service) LatestAirQuality(ctx context.Context, c LatestCriteria) (AirQualityResult, error) {
	p, err := c.normalize()
	if err != nil {
		return AirQualityResult{}, err
	}

	params := providers.LatestParams{City: c.City, Country: c.Country}
	if p != nil {
		params.Coordinates = &providers.Coordinates{Latitude: p.Latitude, Longitude: p.Longitude}
	}

	calledAt := s.now()
	raw, err := s.airQuality.Latest(ctx, params)
	if err != nil {
		return AirQualityResult{}, err
	}

	res := normalize.LatestAirQuality(ctx, raw, calledAt)
	if err := s.recordAirQuality(ctx, normalize.KindLatest, &res); err != nil {
		return res, err
	}
	return res, nil
}

// Locations returns upstream air quality locations.
func (s *Service) Locations(ctx context.Context, c LocationCriteria) (LocationsResult, error) {
	if err := c.normalize(); err != nil {
		return LocationsResult{}, err
	}

	raw, err := s.airQuality.Locations(ctx, providers.LocationsParams{City: c.City, Country: c.Country, Limit: c.Limit})
	if err != nil {
		return LocationsResult{}, err
	}

	res := normalize.AirQualityLocations(ctx, raw, s.now())
	if s.sink == nil {
		return res, nil
	}
	err = record(ctx, normalize.KindLocation, &res,
		func(ctx context.Context, loc records.Location) (records.Location, error) {
			stored, err := s.sink.RecordAirQuality(ctx, normalize.LocationReadings{Location: loc})
			return stored.Location, err
		},
		func(loc records.Location) records.Location { return loc },
	)
	return res, err
}

// HistoricalAirQuality returns the measurements of one upstream location inside
// [From, To], ordered by timestamp ascending.
func (s *Service) HistoricalAirQuality(ctx context.Context, c HistoryCriteria) (AirQualityResult, error) {
	if err := c.normalize(); err != nil {
		return AirQualityResult{}, err
	}

	raw, err := s.airQuality.Measurements(ctx, providers.MeasurementsParams{
		LocationID: c.LocationID,
		DateFrom:   c.From,
		DateTo:     c.To,
		Limit:      c.Limit,
	})
	if err != nil {
		return AirQualityResult{}, err
	}

	res := normalize.HistoricalMeasurements(ctx, raw, s.now())

	// The upstream window is advisory; enforce it here.
	kept := res.Records[:0]
	for _, r := range res.Records {
		ts := r.Measurements[0].Timestamp
		if ts.Before(c.From) || ts.After(c.To) {
			continue
		}
		kept = append(kept, r)
	}
	res.Records = kept
	sort.SliceStable(res.Records, func(i, j int) bool {
		return res.Records[i].Measurements[0].Timestamp.Before(res.Records[j].Measurements[0].Timestamp)
	})

	if err := s.recordAirQuality(ctx, normalize.KindHistorical, &res); err != nil {
		return res, err
	}
	return res, nil
}

// CurrentWeather returns the current conditions at a point.
func (s *Service) CurrentWeather(ctx context.Context, c WeatherCriteria) (WeatherResult, error) {
	p, err := c.normalize()
	if err != nil {
		return WeatherResult{}, err
	}

	body, err := s.weather.Current(ctx, providers.Coordinates{Latitude: p.Latitude, Longitude: p.Longitude}, c.Units)
	if err != nil {
		return WeatherResult{}, err
	}

	res := normalize.CurrentWeather(ctx, body, c.Units, s.now())
	if err := s.recordWeather(ctx, normalize.KindCurrent, &res); err != nil {
		return res, err
	}
	return res, nil
}

// Forecast returns up to Count 3-hour forecast steps at a point.
func (s *Service) Forecast(ctx context.Context, c ForecastCriteria) (WeatherResult, error) {
	p, err := c.normalize()
	if err != nil {
		return WeatherResult{}, err
	}

	body, err := s.weather.Forecast(ctx, providers.Coordinates{Latitude: p.Latitude, Longitude: p.Longitude}, c.Units, c.Count)
	if err != nil {
		return WeatherResult{}, err
	}

	res := normalize.Forecast(ctx, body, c.Units, s.now())
	if err := s.recordWeather(ctx, normalize.KindForecast, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) recordAirQuality(ctx context.Context, kind string, res *AirQualityResult) error {
	if s.sink == nil {
		return nil
	}
	return record(ctx, kind, res, s.sink.RecordAirQuality,
		func(r normalize.LocationReadings) records.Location { return r.Location })
}

func (s *Service) recordWeather(ctx context.Context, kind string, res *WeatherResult) error {
	if s.sink == nil {
		return nil
	}
	return record(ctx, kind, res, s.sink.RecordWeather,
		func(r normalize.WeatherReadings) records.Location { return r.Location })
}

// record hands every group of res to save and keeps what was stored. Groups the store
// rejects become skips; the batch only fails on other errors or when nothing was stored.
func record[T any](ctx context.Context, kind string, res *normalize.Result[T],
	save func(context.Context, T) (T, error), location func(T) records.Location,
) error {
	var rejection error
	kept := res.Records[:0]
	for i, r := range res.Records {
		stored, err := save(ctx, r)
		var verr *records.ValidationError
		switch {
		case err == nil:
		case errors.As(err, &verr):
			name := location(r).Name
			res.Skipped = append(res.Skipped, normalize.ReportSkip(ctx, kind, i, fmt.Sprintf("not stored: %s: %v", name, err)))
			rejection = err
			if location(stored).ID == uuid.Nil {
				continue
			}
		default:
			zerolog.Ctx(ctx).Error().Err(err).Str("kind", kind).Str("location", location(r).Name).Msg("failed to record readings")
			res.Records = kept
			return err
		}
		kept = append(kept, stored)
	}
	res.Records = kept

	if len(kept) == 0 && rejection != nil {
		return rejection
	}
	return nil
}

// StoredLocations lists the locations known to the store.
func (s *Service) StoredLocations(ctx context.Context, limit int) ([]records.Location, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	if limit == 0 {
		limit = DefaultLocationsLimit
	}
	if limit < 1 || limit > MaxLocationsLimit {
		return nil, &BadRequestError{Field: "limit", Reason: "must be between 1 and 1000"}
	}
	return s.store.ListLocations(ctx, limit)
}

// StoredLocation returns one stored location.
func (s *Service) StoredLocation(ctx context.Context, id uuid.UUID) (records.Location, error) {
	if s.store == nil {
		return records.Location{}, ErrNoStore
	}
	return s.store.GetLocation(ctx, id)
}

// StoredMeasurements reads persisted measurements of one location.
func (s *Service) StoredMeasurements(ctx context.Context, c StoredCriteria) ([]records.Measurement, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return s.store.MeasurementsFor(ctx, c.LocationID, c.Parameter, c.From, c.To, c.Limit)
}

// StoredWeather reads persisted weather observations of one location.
func (s *Service) StoredWeather(ctx context.Context, c StoredCriteria) ([]records.WeatherObservation, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return s.store.WeatherObservationsFor(ctx, c.LocationID, c.From, c.To, c.Limit)
}

// Summary reduces the persisted measurements of one location to per-parameter statistics.
func (s *Service) Summary(ctx context.Context, c StoredCriteria) ([]records.ParameterSummary, error) {
	measurements, err := s.StoredMeasurements(ctx, c)
	if err != nil {
		return nil, err
	}
	return SummarizeMeasurements(measurements), nil
}
