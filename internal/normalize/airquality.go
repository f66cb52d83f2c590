package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/air-weather-aggregation/internal/common"
	"github.com/i474232898/air-weather-aggregation/internal/records"
)

type aqCoordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// aqLocation covers both the latest and the locations result shapes.
type aqLocation struct {
	ID             json.RawMessage   `json:"id"`
	LocationID     json.RawMessage   `json:"locationId"`
	LocationIDAlt  json.RawMessage   `json:"location_id"`
	Location       *string           `json:"location"`
	Name           *string           `json:"name"`
	City           *string           `json:"city"`
	Country        *string           `json:"country"`
	Coordinates    *aqCoordinates    `json:"coordinates"`
	LastUpdated    *string           `json:"lastUpdated"`
	LastUpdatedAlt *string           `json:"last_updated"`
	Measurements   []json.RawMessage `json:"measurements"`
}

type aqTriple struct {
	Parameter *string  `json:"parameter"`
	Value     *float64 `json:"value"`
	Unit      *string  `json:"unit"`
}

type aqHistorical struct {
	LocationID    json.RawMessage `json:"locationId"`
	LocationIDAlt json.RawMessage `json:"location_id"`
	Location      *string         `json:"location"`
	Parameter     *string         `json:"parameter"`
	Value         *float64        `json:"value"`
	Unit          *string         `json:"unit"`
	Date          *struct {
		UTC *string `json:"utc"`
	} `json:"date"`
	Coordinates *aqCoordinates `json:"coordinates"`
	City        *string        `json:"city"`
	Country     *string        `json:"country"`
}

// LatestAirQuality maps latest results to one LocationReadings each, with one measurement per
// valid parameter/value/unit triple. Measurements carry the record's reported update time when
// present, otherwise calledAt.
func LatestAirQuality(ctx context.Context, raw []json.RawMessage, calledAt time.Time) Result[LocationReadings] {
	c := newCollector[LocationReadings](ctx, KindLatest)

	for i, item := range raw {
		var rec aqLocation
		if err := json.Unmarshal(item, &rec); err != nil {
			c.skip(i, "decode: %v", err)
			continue
		}

		loc, err := rec.location(calledAt)
		if err != nil {
			c.skip(i, "%v", err)
			continue
		}

		ts := calledAt.UTC()
		if updated := firstString(rec.LastUpdated, rec.LastUpdatedAlt); updated != "" {
			parsed, err := common.ParseTime(updated)
			if err != nil {
				c.skip(i, "lastUpdated %q: %v", updated, err)
				continue
			}
			ts = parsed
			loc.LastUpdated = parsed
			loc.FirstDetected = parsed
		}

		readings := LocationReadings{Location: loc, Measurements: make([]records.Measurement, 0, len(rec.Measurements))}
		for j, rawTriple := range rec.Measurements {
			m, err := decodeTriple(rawTriple, ts)
			if err != nil {
				c.skip(i, "measurement %d: %v", j, err)
				continue
			}
			readings.Measurements = append(readings.Measurements, m)
		}

		c.add(readings)
	}

	return c.result()
}

// AirQualityLocations maps locations results to Location records only.
func AirQualityLocations(ctx context.Context, raw []json.RawMessage, seenAt time.Time) Result[records.Location] {
	c := newCollector[records.Location](ctx, KindLocation)

	for i, item := range raw {
		var rec aqLocation
		if err := json.Unmarshal(item, &rec); err != nil {
			c.skip(i, "decode: %v", err)
			continue
		}

		loc, err := rec.location(seenAt)
		if err != nil {
			c.skip(i, "%v", err)
			continue
		}
		if updated := firstString(rec.LastUpdated, rec.LastUpdatedAlt); updated != "" {
			if parsed, err := common.ParseTime(updated); err == nil {
				loc.LastUpdated = parsed
			}
		}

		c.add(loc)
	}

	return c.result()
}

// HistoricalMeasurements maps each measurements result 1:1 onto a measurement tied to a
// candidate location built from the record's name and coordinates.
func HistoricalMeasurements(ctx context.Context, raw []json.RawMessage, seenAt time.Time) Result[LocationReadings] {
	c := newCollector[LocationReadings](ctx, KindHistorical)

	for i, item := range raw {
		var rec aqHistorical
		if err := json.Unmarshal(item, &rec); err != nil {
			c.skip(i, "decode: %v", err)
			continue
		}

		readings, err := rec.readings(seenAt)
		if err != nil {
			c.skip(i, "%v", err)
			continue
		}
		c.add(readings)
	}

	return c.result()
}

func (rec aqLocation) location(seenAt time.Time) (records.Location, error) {
	id, err := firstID(rec.ID, rec.LocationID, rec.LocationIDAlt)
	if err != nil {
		return records.Location{}, err
	}

	name := firstString(rec.Location, rec.Name)
	if name == "" {
		return records.Location{}, errors.New("location name is missing")
	}

	lat, lon, err := rec.Coordinates.point()
	if err != nil {
		return records.Location{}, err
	}

	return records.Location{
		Source:        records.SourceOpenAQ,
		SourceID:      id,
		Name:          name,
		City:          deref(rec.City),
		Country:       deref(rec.Country),
		Latitude:      lat,
		Longitude:     lon,
		FirstDetected: seenAt.UTC(),
		LastUpdated:   seenAt.UTC(),
	}, nil
}

func (rec aqHistorical) readings(seenAt time.Time) (LocationReadings, error) {
	id, err := firstID(rec.LocationID, rec.LocationIDAlt)
	if err != nil {
		return LocationReadings{}, err
	}

	name := deref(rec.Location)
	if name == "" {
		return LocationReadings{}, errors.New("location name is missing")
	}

	lat, lon, err := rec.Coordinates.point()
	if err != nil {
		return LocationReadings{}, err
	}

	if rec.Date == nil || rec.Date.UTC == nil {
		return LocationReadings{}, errors.New("date.utc is missing")
	}
	ts, err := common.ParseTime(*rec.Date.UTC)
	if err != nil {
		return LocationReadings{}, fmt.Errorf("date.utc %q: %w", *rec.Date.UTC, err)
	}

	m, err := triple(aqTriple{Parameter: rec.Parameter, Value: rec.Value, Unit: rec.Unit}, ts)
	if err != nil {
		return LocationReadings{}, err
	}

	return LocationReadings{
		Location: records.Location{
			Source:        records.SourceOpenAQ,
			SourceID:      id,
			Name:          name,
			City:          deref(rec.City),
			Country:       deref(rec.Country),
			Latitude:      lat,
			Longitude:     lon,
			FirstDetected: seenAt.UTC(),
			LastUpdated:   seenAt.UTC(),
		},
		Measurements: []records.Measurement{m},
	}, nil
}

func (c *aqCoordinates) point() (float64, float64, error) {
	if c == nil || c.Latitude == nil || c.Longitude == nil {
		return 0, 0, errors.New("coordinates are missing")
	}
	return *c.Latitude, *c.Longitude, nil
}

func decodeTriple(raw json.RawMessage, ts time.Time) (records.Measurement, error) {
	var t aqTriple
	if err := json.Unmarshal(raw, &t); err != nil {
		return records.Measurement{}, fmt.Errorf("decode: %w", err)
	}
	return triple(t, ts)
}

func triple(t aqTriple, ts time.Time) (records.Measurement, error) {
	parameter := canonicalParameter(deref(t.Parameter))
	if parameter == "" {
		return records.Measurement{}, errors.New("parameter is missing")
	}
	if t.Value == nil {
		return records.Measurement{}, errors.New("value is missing")
	}
	unit := deref(t.Unit)
	if unit == "" {
		return records.Measurement{}, errors.New("unit is missing")
	}

	return records.Measurement{
		Parameter:  parameter,
		Value:      *t.Value,
		Unit:       unit,
		Timestamp:  ts.UTC(),
		DataSource: records.SourceOpenAQ,
	}, nil
}
