package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/air-weather-aggregation/internal/records"
)

var (
	// ErrNotFound is returned when a location id is unknown to the store.
	ErrNotFound = errors.New("location not found")
)

// Store is the persistence contract shared by the in-memory and Postgres stores.
//
// Every write validates its record first and either fully succeeds or leaves the
// store untouched. Range queries are inclusive on both ends and ordered by timestamp
// ascending; a zero from or to leaves that side of the window open and a limit <= 0
// returns every match.
type Store interface {
	UpsertLocation(ctx context.Context, candidate records.Location) (uuid.UUID, error)
	AppendMeasurement(ctx context.Context, locationID uuid.UUID, m records.Measurement) (uuid.UUID, error)
	AppendWeatherObservation(ctx context.Context, locationID uuid.UUID, o records.WeatherObservation) (uuid.UUID, error)

	GetLocation(ctx context.Context, id uuid.UUID) (records.Location, error)
	ListLocations(ctx context.Context, limit int) ([]records.Location, error)
	MeasurementsFor(ctx context.Context, locationID uuid.UUID, parameter string, from, to time.Time, limit int) ([]records.Measurement, error)
	WeatherObservationsFor(ctx context.Context, locationID uuid.UUID, from, to time.Time, limit int) ([]records.WeatherObservation, error)
}

func inWindow(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}
