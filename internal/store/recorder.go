package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/air-weather-aggregation/internal/metrics"
	"github.com/i474232898/air-weather-aggregation/internal/normalize"
	"github.com/i474232898/air-weather-aggregation/internal/records"
)

// Recorder persists normalized readings: it upserts the location, then appends every
// row under the resolved location id. The returned readings carry the stored location
// and the ids of the stored rows.
//
// Rows that break a record invariant are left out. They are reported as a joined
// *records.ValidationError next to the stored readings. When every row of a group is
// rejected the location is not written and the returned Location.ID stays uuid.Nil.
type Recorder struct {
	store Store
	now   func() time.Time
}

func NewRecorder(s Store) *Recorder {
	return &Recorder{store: s, now: time.Now}
}

func (r *Recorder) RecordAirQuality(ctx context.Context, readings normalize.LocationReadings) (normalize.LocationReadings, error) {
	now := r.now()
	var (
		valid    []records.Measurement
		rejected []error
	)
	for _, m := range readings.Measurements {
		if err := m.ValidateReading(now); err != nil {
			rejected = append(rejected, fmt.Errorf("%s measurement: %w", m.Parameter, err))
			continue
		}
		valid = append(valid, m)
	}
	if len(valid) == 0 && len(rejected) > 0 {
		readings.Measurements = nil
		return readings, errors.Join(rejected...)
	}

	loc, err := r.upsert(ctx, readings.Location)
	if err != nil {
		return readings, err
	}
	readings.Location = loc

	stored := make([]records.Measurement, 0, len(valid))
	for _, m := range valid {
		id, err := r.store.AppendMeasurement(ctx, loc.ID, m)
		var verr *records.ValidationError
		switch {
		case errors.As(err, &verr):
			rejected = append(rejected, fmt.Errorf("%s measurement: %w", m.Parameter, err))
			continue
		case err != nil:
			return readings, fmt.Errorf("append %s measurement: %w", m.Parameter, err)
		}
		m.ID = id
		m.LocationID = loc.ID
		stored = append(stored, m)
		metrics.PersistedRecords.WithLabelValues("measurements").Inc()
	}
	readings.Measurements = stored

	zerolog.Ctx(ctx).Debug().Str("location_id", loc.ID.String()).Int("measurements", len(stored)).Int("rejected", len(rejected)).Msg("recorded air quality")
	return readings, errors.Join(rejected...)
}

func (r *Recorder) RecordWeather(ctx context.Context, readings normalize.WeatherReadings) (normalize.WeatherReadings, error) {
	var (
		valid    []records.WeatherObservation
		rejected []error
	)
	for _, o := range readings.Observations {
		if err := o.ValidateReading(); err != nil {
			rejected = append(rejected, fmt.Errorf("weather observation at %s: %w", o.Timestamp.Format(time.RFC3339), err))
			continue
		}
		valid = append(valid, o)
	}
	if len(valid) == 0 && len(rejected) > 0 {
		readings.Observations = nil
		return readings, errors.Join(rejected...)
	}

	loc, err := r.upsert(ctx, readings.Location)
	if err != nil {
		return readings, err
	}
	readings.Location = loc

	stored := make([]records.WeatherObservation, 0, len(valid))
	for _, o := range valid {
		id, err := r.store.AppendWeatherObservation(ctx, loc.ID, o)
		var verr *records.ValidationError
		switch {
		case errors.As(err, &verr):
			rejected = append(rejected, fmt.Errorf("weather observation at %s: %w", o.Timestamp.Format(time.RFC3339), err))
			continue
		case err != nil:
			return readings, fmt.Errorf("append weather observation at %s: %w", o.Timestamp, err)
		}
		o.ID = id
		o.LocationID = loc.ID
		stored = append(stored, o)
		metrics.PersistedRecords.WithLabelValues("weather_observations").Inc()
	}
	readings.Observations = stored

	zerolog.Ctx(ctx).Debug().Str("location_id", loc.ID.String()).Int("observations", len(stored)).Int("rejected", len(rejected)).Msg("recorded weather")
	return readings, errors.Join(rejected...)
}

// upsert stores candidate and returns the row as the store holds it.
func (r *Recorder) upsert(ctx context.Context, candidate records.Location) (records.Location, error) {
	id, err := r.store.UpsertLocation(ctx, candidate)
	if err != nil {
		return records.Location{}, fmt.Errorf("upsert location %q: %w", candidate.Name, err)
	}
	metrics.PersistedRecords.WithLabelValues("locations").Inc()

	loc, err := r.store.GetLocation(ctx, id)
	if err != nil {
		return records.Location{}, fmt.Errorf("read back location %s: %w", id, err)
	}
	return loc, nil
}
