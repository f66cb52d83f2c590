package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/matryer/is"

	"github.com/i474232898/air-weather-aggregation/internal/normalize"
	"github.com/i474232898/air-weather-aggregation/internal/records"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(maxHistory int) *MemoryStore {
	s := NewMemoryStore(maxHistory)
	s.now = func() time.Time { return fixedNow }
	return s
}

func delhi() records.Location {
	return records.Location{
		Source:    records.SourceOpenAQ,
		SourceID:  "8118",
		Name:      "Anand Vihar",
		City:      "Delhi",
		Country:   "IN",
		Latitude:  28.6508,
		Longitude: 77.3152,
	}
}

func pm25(ts time.Time, v float64) records.Measurement {
	return records.Measurement{Parameter: "pm25", Value: v, Unit: "µg/m³", Timestamp: ts, DataSource: records.SourceOpenAQ}
}

func TestUpsertLocationIsIdempotent(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)

	first, err := s.UpsertLocation(ctx, delhi())
	is.NoErr(err)

	again := delhi()
	again.Name = "Anand Vihar, Delhi - DPCC"
	again.LastUpdated = fixedNow.Add(time.Hour)
	second, err := s.UpsertLocation(ctx, again)
	is.NoErr(err)

	is.Equal(first, second)

	locs, err := s.ListLocations(ctx, 0)
	is.NoErr(err)
	is.Equal(len(locs), 1)
	is.Equal(locs[0].LastUpdated, fixedNow.Add(time.Hour))
}

func TestUpsertLocationFallsBackToNameAndCoordinates(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)

	loc := delhi()
	loc.SourceID = ""
	first, err := s.UpsertLocation(ctx, loc)
	is.NoErr(err)

	near := loc
	near.Latitude += records.CoordinateEpsilon / 2
	second, err := s.UpsertLocation(ctx, near)
	is.NoErr(err)
	is.Equal(first, second)

	far := loc
	far.Longitude += 0.01
	third, err := s.UpsertLocation(ctx, far)
	is.NoErr(err)
	is.True(third != first)
}

func TestUpsertLocationConcurrentCreatesOneRow(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.UpsertLocation(ctx, delhi())
			if err == nil {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		is.Equal(id, ids[0])
	}
	locs, _ := s.ListLocations(ctx, 0)
	is.Equal(len(locs), 1)
}

func TestUpsertLocationRejectsInvalidCoordinates(t *testing.T) {
	is := is.New(t)
	s := newTestStore(0)

	loc := delhi()
	loc.Latitude = 91
	_, err := s.UpsertLocation(context.Background(), loc)

	var verr *records.ValidationError
	is.True(errors.As(err, &verr))
	is.Equal(verr.Field, "latitude")
}

func TestMeasurementsForRangeIsInclusiveAndOrdered(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)

	locID, err := s.UpsertLocation(ctx, delhi())
	is.NoErr(err)

	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{
		to.Add(time.Second),
		to,
		from.Add(6 * time.Hour),
		from,
		from.Add(-time.Second),
	} {
		_, err := s.AppendMeasurement(ctx, locID, pm25(ts, 10))
		is.NoErr(err)
	}
	_, err = s.AppendMeasurement(ctx, locID, records.Measurement{Parameter: "o3", Value: 1, Unit: "ppb", Timestamp: from, DataSource: records.SourceOpenAQ})
	is.NoErr(err)

	got, err := s.MeasurementsFor(ctx, locID, "pm25", from, to, 0)
	is.NoErr(err)
	is.Equal(len(got), 3)
	is.Equal(got[0].Timestamp, from)
	is.Equal(got[1].Timestamp, from.Add(6*time.Hour))
	is.Equal(got[2].Timestamp, to)

	all, err := s.MeasurementsFor(ctx, locID, "", from, to, 0)
	is.NoErr(err)
	is.Equal(len(all), 4)

	limited, err := s.MeasurementsFor(ctx, locID, "pm25", time.Time{}, time.Time{}, 2)
	is.NoErr(err)
	is.Equal(len(limited), 2)
	is.Equal(limited[0].Timestamp, from.Add(-time.Second))
}

func TestAppendMeasurementRejectsFutureTimestamp(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)

	locID, _ := s.UpsertLocation(ctx, delhi())

	_, err := s.AppendMeasurement(ctx, locID, pm25(fixedNow.Add(4*time.Minute), 1))
	is.NoErr(err)

	_, err = s.AppendMeasurement(ctx, locID, pm25(fixedNow.Add(10*time.Minute), 1))
	var verr *records.ValidationError
	is.True(errors.As(err, &verr))
	is.Equal(verr.Field, "timestamp")
}

func TestAppendToUnknownLocation(t *testing.T) {
	is := is.New(t)
	s := newTestStore(0)

	_, err := s.AppendMeasurement(context.Background(), uuid.New(), pm25(fixedNow, 1))
	is.True(errors.Is(err, ErrNotFound))

	_, err = s.MeasurementsFor(context.Background(), uuid.New(), "", time.Time{}, time.Time{}, 0)
	is.True(errors.Is(err, ErrNotFound))
}

func TestHumidityOutOfRangeIsRejectedWithoutRow(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)

	locID, err := s.UpsertLocation(ctx, records.Location{Source: records.SourceOpenWeatherMap, SourceID: "2643743", Name: "London", Latitude: 51.5, Longitude: -0.12})
	is.NoErr(err)

	obs := records.WeatherObservation{
		Timestamp:  fixedNow,
		DataSource: records.SourceOpenWeatherMap,
		Units:      "metric",
		Humidity:   105,
		Pressure:   1012,
	}
	_, err = s.AppendWeatherObservation(ctx, locID, obs)

	var verr *records.ValidationError
	is.True(errors.As(err, &verr))
	is.Equal(verr.Field, "humidity")

	got, err := s.WeatherObservationsFor(ctx, locID, time.Time{}, time.Time{}, 0)
	is.NoErr(err)
	is.Equal(len(got), 0)
}

func TestRetentionKeepsNewestRows(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(2)

	locID, _ := s.UpsertLocation(ctx, delhi())
	base := fixedNow.Add(-time.Hour)
	for i := 0; i < 4; i++ {
		_, err := s.AppendMeasurement(ctx, locID, pm25(base.Add(time.Duration(i)*time.Minute), float64(i)))
		is.NoErr(err)
	}

	got, _ := s.MeasurementsFor(ctx, locID, "", time.Time{}, time.Time{}, 0)
	is.Equal(len(got), 2)
	is.Equal(got[0].Value, 2.0)
	is.Equal(got[1].Value, 3.0)
}

func TestRecorderPersistsSurvivingMeasurements(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)
	rec := NewRecorder(s)

	raw := []json.RawMessage{
		json.RawMessage(`{"locationId": 1, "location": "Site", "parameter": "pm25", "value": 1, "unit": "µg/m³", "date": {"utc": "2023-01-01T01:00:00Z"}, "coordinates": {"latitude": 10, "longitude": 20}}`),
		json.RawMessage(`{"locationId": 1, "location": "Site", "parameter": "pm25", "value": 2, "unit": "µg/m³", "date": {"utc": "2023-01-01T02:00:00Z"}, "coordinates": {"latitude": 10, "longitude": 20}}`),
		json.RawMessage(`{"locationId": 1, "location": "Site", "parameter": "pm25", "value": "n/a", "unit": "µg/m³", "date": {"utc": "2023-01-01T03:00:00Z"}, "coordinates": {"latitude": 10, "longitude": 20}}`),
		json.RawMessage(`{"locationId": 1, "location": "Site", "parameter": "pm25", "value": 4, "unit": "µg/m³", "date": {"utc": "2023-01-01T04:00:00Z"}, "coordinates": {"latitude": 10, "longitude": 20}}`),
		json.RawMessage(`{"locationId": 1, "location": "Site", "parameter": "pm25", "value": 5, "unit": "µg/m³", "date": {"utc": "2023-01-01T05:00:00Z"}, "coordinates": {"latitude": 10, "longitude": 20}}`),
	}

	res := normalize.HistoricalMeasurements(ctx, raw, fixedNow)
	is.Equal(len(res.Skipped), 1)

	var locID uuid.UUID
	for _, r := range res.Records {
		stored, err := rec.RecordAirQuality(ctx, r)
		is.NoErr(err)
		is.True(stored.Measurements[0].ID != uuid.Nil)
		locID = stored.Location.ID
	}

	got, err := s.MeasurementsFor(ctx, locID, "pm25", time.Time{}, time.Time{}, 0)
	is.NoErr(err)
	is.Equal(len(got), 4)

	locs, _ := s.ListLocations(ctx, 0)
	is.Equal(len(locs), 1)
}

func TestRecorderKeepsValidRowsOfPartlyRejectedGroup(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)
	rec := NewRecorder(s)
	rec.now = func() time.Time { return fixedNow }

	stored, err := rec.RecordAirQuality(ctx, normalize.LocationReadings{
		Location:     delhi(),
		Measurements: []records.Measurement{pm25(fixedNow.Add(-time.Hour), 1), pm25(fixedNow.Add(time.Hour), 2)},
	})

	var verr *records.ValidationError
	is.True(errors.As(err, &verr))
	is.Equal(verr.Field, "timestamp")
	is.True(stored.Location.ID != uuid.Nil)
	is.Equal(len(stored.Measurements), 1)
	is.Equal(stored.Measurements[0].Value, 1.0)

	got, _ := s.MeasurementsFor(ctx, stored.Location.ID, "", time.Time{}, time.Time{}, 0)
	is.Equal(len(got), 1)
}

func TestRecorderWritesNothingForFullyRejectedGroup(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)
	rec := NewRecorder(s)
	rec.now = func() time.Time { return fixedNow }

	stored, err := rec.RecordAirQuality(ctx, normalize.LocationReadings{
		Location:     delhi(),
		Measurements: []records.Measurement{pm25(fixedNow.Add(time.Hour), 2)},
	})

	var verr *records.ValidationError
	is.True(errors.As(err, &verr))
	is.Equal(stored.Location.ID, uuid.Nil)

	locs, _ := s.ListLocations(ctx, 0)
	is.Equal(len(locs), 0)
}

func TestRecorderReturnsStoredLocation(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s := newTestStore(0)
	rec := NewRecorder(s)

	first := delhi()
	first.FirstDetected = fixedNow.Add(-2 * time.Hour)
	first.LastUpdated = fixedNow.Add(-2 * time.Hour)
	_, err := rec.RecordAirQuality(ctx, normalize.LocationReadings{Location: first})
	is.NoErr(err)

	later := delhi()
	later.FirstDetected = fixedNow
	later.LastUpdated = fixedNow
	stored, err := rec.RecordAirQuality(ctx, normalize.LocationReadings{Location: later})
	is.NoErr(err)

	is.Equal(stored.Location.FirstDetected, first.FirstDetected)
	is.Equal(stored.Location.LastUpdated, fixedNow)
}
