package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/air-weather-aggregation/internal/records"
)

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables and indexes when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS locations (
            id UUID PRIMARY KEY,
            source TEXT NOT NULL,
            source_id TEXT,
            name TEXT NOT NULL,
            city TEXT NOT NULL DEFAULT '',
            country TEXT NOT NULL DEFAULT '',
            latitude DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
            longitude DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
            first_detected TIMESTAMPTZ NOT NULL,
            last_updated TIMESTAMPTZ NOT NULL
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS locations_source_id_idx
            ON locations (source, source_id) WHERE source_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS locations_name_idx ON locations (source, name, city, country)`,
		`CREATE TABLE IF NOT EXISTS measurements (
            id UUID PRIMARY KEY,
            location_id UUID NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
            parameter TEXT NOT NULL,
            value DOUBLE PRECISION NOT NULL,
            unit TEXT NOT NULL,
            ts TIMESTAMPTZ NOT NULL,
            data_source TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS measurements_location_ts_idx ON measurements (location_id, parameter, ts)`,
		`CREATE TABLE IF NOT EXISTS weather_observations (
            id UUID PRIMARY KEY,
            location_id UUID NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
            ts TIMESTAMPTZ NOT NULL,
            data_source TEXT NOT NULL,
            units TEXT NOT NULL,
            temp DOUBLE PRECISION NOT NULL,
            feels_like DOUBLE PRECISION NOT NULL,
            temp_min DOUBLE PRECISION NOT NULL,
            temp_max DOUBLE PRECISION NOT NULL,
            pressure DOUBLE PRECISION NOT NULL,
            humidity DOUBLE PRECISION NOT NULL CHECK (humidity BETWEEN 0 AND 100),
            visibility INTEGER,
            wind_speed DOUBLE PRECISION NOT NULL,
            wind_deg DOUBLE PRECISION NOT NULL,
            wind_gust DOUBLE PRECISION,
            clouds_all DOUBLE PRECISION NOT NULL CHECK (clouds_all BETWEEN 0 AND 100),
            weather_id INTEGER NOT NULL,
            weather_main TEXT NOT NULL,
            weather_description TEXT NOT NULL,
            weather_icon TEXT NOT NULL,
            rain_volume DOUBLE PRECISION,
            snow_volume DOUBLE PRECISION,
            precip_probability DOUBLE PRECISION
        )`,
		`CREATE INDEX IF NOT EXISTS weather_observations_location_ts_idx ON weather_observations (location_id, ts)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const locationColumns = `id, source, COALESCE(source_id, ''), name, city, country, latitude, longitude, first_detected, last_updated`

// upsertLockKey names the advisory lock of the identity a candidate is matched on.
// Candidates that can match the same row always share a key.
func upsertLockKey(candidate records.Location) string {
	if candidate.SourceID != "" {
		return "id/" + candidate.Source + "/" + candidate.SourceID
	}
	return "site/" + candidate.Source + "/" + candidate.Name + "/" + candidate.City + "/" + candidate.Country
}

// UpsertLocation runs the match-or-insert in one transaction holding an advisory lock
// on the candidate's identity, so concurrent ingestion of the same site never creates
// two rows.
func (s *PostgresStore) UpsertLocation(ctx context.Context, candidate records.Location) (uuid.UUID, error) {
	if err := candidate.Validate(); err != nil {
		return uuid.Nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, upsertLockKey(candidate)); err != nil {
		return uuid.Nil, fmt.Errorf("acquire upsert lock: %w", err)
	}

	var id uuid.UUID
	if candidate.SourceID != "" {
		err = tx.QueryRow(ctx,
			`SELECT id FROM locations WHERE source = $1 AND source_id = $2`,
			candidate.Source, candidate.SourceID,
		).Scan(&id)
	} else {
		err = tx.QueryRow(ctx,
			`SELECT id FROM locations
             WHERE source = $1 AND name = $2 AND city = $3 AND country = $4
               AND ABS(latitude - $5) <= $7 AND ABS(longitude - $6) <= $7
             ORDER BY first_detected
             LIMIT 1`,
			candidate.Source, candidate.Name, candidate.City, candidate.Country,
			candidate.Latitude, candidate.Longitude, records.CoordinateEpsilon,
		).Scan(&id)
	}

	switch {
	case err == nil:
		if !candidate.LastUpdated.IsZero() {
			if _, err := tx.Exec(ctx,
				`UPDATE locations SET last_updated = GREATEST(last_updated, $2) WHERE id = $1`,
				id, candidate.LastUpdated.UTC(),
			); err != nil {
				return uuid.Nil, err
			}
		}
	case errors.Is(err, pgx.ErrNoRows):
		id = uuid.New()
		now := s.now().UTC()
		first, last := candidate.FirstDetected, candidate.LastUpdated
		if first.IsZero() {
			first = now
		}
		if last.IsZero() {
			last = now
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO locations (id, source, source_id, name, city, country, latitude, longitude, first_detected, last_updated)
             VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
			id, candidate.Source, candidate.SourceID, candidate.Name, candidate.City, candidate.Country,
			candidate.Latitude, candidate.Longitude, first.UTC(), last.UTC(),
		); err != nil {
			return uuid.Nil, err
		}
	default:
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *PostgresStore) AppendMeasurement(ctx context.Context, locationID uuid.UUID, m records.Measurement) (uuid.UUID, error) {
	m.LocationID = locationID
	if err := m.Validate(s.now()); err != nil {
		return uuid.Nil, err
	}
	if err := s.requireLocation(ctx, locationID); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO measurements (id, location_id, parameter, value, unit, ts, data_source)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, locationID, m.Parameter, m.Value, m.Unit, m.Timestamp.UTC(), m.DataSource,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *PostgresStore) AppendWeatherObservation(ctx context.Context, locationID uuid.UUID, o records.WeatherObservation) (uuid.UUID, error) {
	o.LocationID = locationID
	if err := o.Validate(); err != nil {
		return uuid.Nil, err
	}
	if err := s.requireLocation(ctx, locationID); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO weather_observations (
            id, location_id, ts, data_source, units,
            temp, feels_like, temp_min, temp_max, pressure, humidity, visibility,
            wind_speed, wind_deg, wind_gust, clouds_all,
            weather_id, weather_main, weather_description, weather_icon,
            rain_volume, snow_volume, precip_probability)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		id, locationID, o.Timestamp.UTC(), o.DataSource, o.Units,
		o.Temperature, o.FeelsLike, o.TempMin, o.TempMax, o.Pressure, o.Humidity, o.Visibility,
		o.WindSpeed, o.WindDeg, o.WindGust, o.Clouds,
		o.ConditionID, o.Main, o.Description, o.Icon,
		o.RainVolume, o.SnowVolume, o.PrecipProbability,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *PostgresStore) requireLocation(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func scanLocation(row pgx.Row) (records.Location, error) {
	var l records.Location
	err := row.Scan(&l.ID, &l.Source, &l.SourceID, &l.Name, &l.City, &l.Country,
		&l.Latitude, &l.Longitude, &l.FirstDetected, &l.LastUpdated)
	l.FirstDetected = l.FirstDetected.UTC()
	l.LastUpdated = l.LastUpdated.UTC()
	return l, err
}

func (s *PostgresStore) GetLocation(ctx context.Context, id uuid.UUID) (records.Location, error) {
	l, err := scanLocation(s.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return records.Location{}, ErrNotFound
	}
	return l, err
}

func (s *PostgresStore) ListLocations(ctx context.Context, limit int) ([]records.Location, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM locations ORDER BY first_detected, name LIMIT $1`,
		nullableLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locs := []records.Location{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}

func (s *PostgresStore) MeasurementsFor(ctx context.Context, locationID uuid.UUID, parameter string, from, to time.Time, limit int) ([]records.Measurement, error) {
	if err := s.requireLocation(ctx, locationID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, location_id, parameter, value, unit, ts, data_source
         FROM measurements
         WHERE location_id = $1
           AND ($2 = '' OR parameter = $2)
           AND ($3::timestamptz IS NULL OR ts >= $3)
           AND ($4::timestamptz IS NULL OR ts <= $4)
         ORDER BY ts ASC
         LIMIT $5`,
		locationID, parameter, nullableTime(from), nullableTime(to), nullableLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []records.Measurement{}
	for rows.Next() {
		var m records.Measurement
		if err := rows.Scan(&m.ID, &m.LocationID, &m.Parameter, &m.Value, &m.Unit, &m.Timestamp, &m.DataSource); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) WeatherObservationsFor(ctx context.Context, locationID uuid.UUID, from, to time.Time, limit int) ([]records.WeatherObservation, error) {
	if err := s.requireLocation(ctx, locationID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, location_id, ts, data_source, units,
                temp, feels_like, temp_min, temp_max, pressure, humidity, visibility,
                wind_speed, wind_deg, wind_gust, clouds_all,
                weather_id, weather_main, weather_description, weather_icon,
                rain_volume, snow_volume, precip_probability
         FROM weather_observations
         WHERE location_id = $1
           AND ($2::timestamptz IS NULL OR ts >= $2)
           AND ($3::timestamptz IS NULL OR ts <= $3)
         ORDER BY ts ASC
         LIMIT $4`,
		locationID, nullableTime(from), nullableTime(to), nullableLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []records.WeatherObservation{}
	for rows.Next() {
		var o records.WeatherObservation
		if err := rows.Scan(&o.ID, &o.LocationID, &o.Timestamp, &o.DataSource, &o.Units,
			&o.Temperature, &o.FeelsLike, &o.TempMin, &o.TempMax, &o.Pressure, &o.Humidity, &o.Visibility,
			&o.WindSpeed, &o.WindDeg, &o.WindGust, &o.Clouds,
			&o.ConditionID, &o.Main, &o.Description, &o.Icon,
			&o.RainVolume, &o.SnowVolume, &o.PrecipProbability,
		); err != nil {
			return nil, err
		}
		o.Timestamp = o.Timestamp.UTC()
		result = append(result, o)
	}
	return result, rows.Err()
}

// nullableTime maps an open window bound to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// nullableLimit maps "no limit" to SQL NULL, which LIMIT treats as unbounded.
func nullableLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
