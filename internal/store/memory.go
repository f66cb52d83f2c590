package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/air-weather-aggregation/internal/records"
)

// locationHistory holds a location and its time-ordered rows.
type locationHistory struct {
	location     records.Location
	measurements []records.Measurement
	observations []records.WeatherObservation
}

// MemoryStore is a concurrency-safe in-memory implementation of Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location id
	data map[uuid.UUID]*locationHistory
	// key: source + "/" + source id
	bySourceID map[string]uuid.UUID

	// retention: max rows per location per table
	maxHistory int

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		data:       make(map[uuid.UUID]*locationHistory),
		bySourceID: make(map[string]uuid.UUID),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

func sourceKey(source, sourceID string) string {
	return source + "/" + sourceID
}

// UpsertLocation returns the id of the stored location matching candidate, inserting it
// when none matches. A match refreshes LastUpdated.
func (s *MemoryStore) UpsertLocation(_ context.Context, candidate records.Location) (uuid.UUID, error) {
	if err := candidate.Validate(); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h := s.match(candidate); h != nil {
		if candidate.LastUpdated.After(h.location.LastUpdated) {
			h.location.LastUpdated = candidate.LastUpdated.UTC()
		}
		return h.location.ID, nil
	}

	loc := candidate
	loc.ID = uuid.New()
	now := s.now().UTC()
	if loc.FirstDetected.IsZero() {
		loc.FirstDetected = now
	}
	if loc.LastUpdated.IsZero() {
		loc.LastUpdated = now
	}
	loc.FirstDetected = loc.FirstDetected.UTC()
	loc.LastUpdated = loc.LastUpdated.UTC()

	s.data[loc.ID] = &locationHistory{location: loc}
	if loc.SourceID != "" {
		s.bySourceID[sourceKey(loc.Source, loc.SourceID)] = loc.ID
	}
	return loc.ID, nil
}

// match must be called with the write lock held.
func (s *MemoryStore) match(candidate records.Location) *locationHistory {
	if candidate.SourceID != "" {
		if id, ok := s.bySourceID[sourceKey(candidate.Source, candidate.SourceID)]; ok {
			return s.data[id]
		}
		return nil
	}

	for _, h := range s.data {
		l := h.location
		if l.Source == candidate.Source && l.Name == candidate.Name && l.City == candidate.City &&
			l.Country == candidate.Country && records.SameSite(l.Latitude, l.Longitude, candidate.Latitude, candidate.Longitude) {
			return h
		}
	}
	return nil
}

// AppendMeasurement stores m under locationID and enforces retention.
func (s *MemoryStore) AppendMeasurement(_ context.Context, locationID uuid.UUID, m records.Measurement) (uuid.UUID, error) {
	m.LocationID = locationID
	m.Timestamp = m.Timestamp.UTC()
	if err := m.Validate(s.now()); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[locationID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}

	m.ID = uuid.New()
	i := sort.Search(len(h.measurements), func(i int) bool { return h.measurements[i].Timestamp.After(m.Timestamp) })
	h.measurements = append(h.measurements, records.Measurement{})
	copy(h.measurements[i+1:], h.measurements[i:])
	h.measurements[i] = m

	// Enforce retention by count.
	if s.maxHistory > 0 && len(h.measurements) > s.maxHistory {
		over := len(h.measurements) - s.maxHistory
		h.measurements = h.measurements[over:]
	}
	return m.ID, nil
}

// AppendWeatherObservation stores o under locationID and enforces retention.
func (s *MemoryStore) AppendWeatherObservation(_ context.Context, locationID uuid.UUID, o records.WeatherObservation) (uuid.UUID, error) {
	o.LocationID = locationID
	o.Timestamp = o.Timestamp.UTC()
	if err := o.Validate(); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[locationID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}

	o.ID = uuid.New()
	i := sort.Search(len(h.observations), func(i int) bool { return h.observations[i].Timestamp.After(o.Timestamp) })
	h.observations = append(h.observations, records.WeatherObservation{})
	copy(h.observations[i+1:], h.observations[i:])
	h.observations[i] = o

	if s.maxHistory > 0 && len(h.observations) > s.maxHistory {
		over := len(h.observations) - s.maxHistory
		h.observations = h.observations[over:]
	}
	return o.ID, nil
}

// GetLocation returns the stored location with the given id.
func (s *MemoryStore) GetLocation(_ context.Context, id uuid.UUID) (records.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[id]
	if !ok {
		return records.Location{}, ErrNotFound
	}
	return h.location, nil
}

// ListLocations returns stored locations ordered by first sighting.
func (s *MemoryStore) ListLocations(_ context.Context, limit int) ([]records.Location, error) {
	s.mu.RLock()
	locs := make([]records.Location, 0, len(s.data))
	for _, h := range s.data {
		locs = append(locs, h.location)
	}
	s.mu.RUnlock()

	sort.Slice(locs, func(i, j int) bool {
		if !locs[i].FirstDetected.Equal(locs[j].FirstDetected) {
			return locs[i].FirstDetected.Before(locs[j].FirstDetected)
		}
		return locs[i].Name < locs[j].Name
	})

	if limit > 0 && len(locs) > limit {
		locs = locs[:limit]
	}
	return locs, nil
}

// MeasurementsFor returns the measurements of a location between from and to (inclusive),
// optionally restricted to one parameter.
func (s *MemoryStore) MeasurementsFor(_ context.Context, locationID uuid.UUID, parameter string, from, to time.Time, limit int) ([]records.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[locationID]
	if !ok {
		return nil, ErrNotFound
	}

	result := []records.Measurement{}
	for _, m := range h.measurements {
		if parameter != "" && m.Parameter != parameter {
			continue
		}
		if !inWindow(m.Timestamp, from, to) {
			continue
		}
		result = append(result, m)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// WeatherObservationsFor returns the observations of a location between from and to (inclusive).
func (s *MemoryStore) WeatherObservationsFor(_ context.Context, locationID uuid.UUID, from, to time.Time, limit int) ([]records.WeatherObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[locationID]
	if !ok {
		return nil, ErrNotFound
	}

	result := []records.WeatherObservation{}
	for _, o := range h.observations {
		if !inWindow(o.Timestamp, from, to) {
			continue
		}
		result = append(result, o)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
