package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/i474232898/air-weather-aggregation/internal/records"
)

// Runs against a disposable database only when TEST_DATABASE_URL is set.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	for _, table := range []string{"measurements", "weather_observations", "locations"} {
		if _, err := s.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return s
}

func TestPostgresUpsertAndRange(t *testing.T) {
	s := newPostgresTestStore(t)
	is := is.New(t)
	ctx := context.Background()

	first, err := s.UpsertLocation(ctx, delhi())
	is.NoErr(err)
	second, err := s.UpsertLocation(ctx, delhi())
	is.NoErr(err)
	is.Equal(first, second)

	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{to.Add(time.Minute), to, from, from.Add(-time.Minute)} {
		_, err := s.AppendMeasurement(ctx, first, pm25(ts, 1))
		is.NoErr(err)
	}

	got, err := s.MeasurementsFor(ctx, first, "pm25", from, to, 0)
	is.NoErr(err)
	is.Equal(len(got), 2)
	is.Equal(got[0].Timestamp, from)
	is.Equal(got[1].Timestamp, to)
}

func TestPostgresRejectsHumidityOutOfRange(t *testing.T) {
	s := newPostgresTestStore(t)
	is := is.New(t)
	ctx := context.Background()

	locID, err := s.UpsertLocation(ctx, records.Location{Source: records.SourceOpenWeatherMap, Name: "London", Latitude: 51.5, Longitude: -0.12})
	is.NoErr(err)

	_, err = s.AppendWeatherObservation(ctx, locID, records.WeatherObservation{
		Timestamp: time.Now().UTC(), DataSource: records.SourceOpenWeatherMap, Units: "metric", Humidity: 105,
	})
	var verr *records.ValidationError
	is.True(errors.As(err, &verr))

	got, err := s.WeatherObservationsFor(ctx, locID, time.Time{}, time.Time{}, 0)
	is.NoErr(err)
	is.Equal(len(got), 0)
}

func TestUpsertLockKeyFollowsMatchIdentity(t *testing.T) {
	is := is.New(t)

	a := delhi()
	b := delhi()
	b.Latitude += records.CoordinateEpsilon / 2
	is.Equal(upsertLockKey(a), upsertLockKey(b))

	other := delhi()
	other.SourceID = "9000"
	is.True(upsertLockKey(a) != upsertLockKey(other))

	// Without an upstream id, sites sharing a name key share a lock.
	a.SourceID, b.SourceID = "", ""
	b.Longitude += records.CoordinateEpsilon / 2
	is.Equal(upsertLockKey(a), upsertLockKey(b))
	is.True(upsertLockKey(a) != upsertLockKey(delhi()))
}

func TestPostgresConcurrentUpsertsCreateOneRowPerSite(t *testing.T) {
	s := newPostgresTestStore(t)
	is := is.New(t)
	ctx := context.Background()

	sites := []records.Location{delhi(), delhi()}
	sites[1].SourceID = "9000"
	sites[1].Name = "Punjabi Bagh"

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, site := range sites {
			wg.Add(1)
			go func(l records.Location) {
				defer wg.Done()
				_, err := s.UpsertLocation(ctx, l)
				errs <- err
			}(site)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		is.NoErr(err)
	}

	locs, err := s.ListLocations(ctx, 0)
	is.NoErr(err)
	is.Equal(len(locs), 2)
}
