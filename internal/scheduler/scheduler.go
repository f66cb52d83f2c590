package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/air-weather-aggregation/internal/config"
	"github.com/i474232898/air-weather-aggregation/internal/query"
)

const (
	jobTimeout = 30 * time.Second

	// DefaultInterval applies when no positive interval is configured.
	DefaultInterval = 15 * time.Minute
)

// Ingester is the part of the query service the scheduler drives.
type Ingester interface {
	LatestAirQuality(ctx context.Context, c query.LatestCriteria) (query.AirQualityResult, error)
	CurrentWeather(ctx context.Context, c query.WeatherCriteria) (query.WeatherResult, error)
}

// Scheduler periodically ingests air quality and weather for configured targets.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Ingester
	targets   []config.Target
	interval  time.Duration
	logger    zerolog.Logger
}

// New creates a new Scheduler. service should carry a persisting sink.
func New(targets []config.Target, interval time.Duration, service Ingester, logger zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		targets:   targets,
		interval:  interval,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.targets) == 0 {
		s.logger.Info().Msg("no targets configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.every()).Do(s.RunOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// every returns the configured interval, falling back to DefaultInterval when unset.
func (s *Scheduler) every() time.Duration {
	if s.interval <= 0 {
		return DefaultInterval
	}
	return s.interval
}

// RunOnce ingests every target concurrently and waits for all of them.
func (s *Scheduler) RunOnce() {
	runID := uuid.New()
	logger := s.logger.With().Str("run_id", runID.String()).Logger()
	logger.Info().Int("targets", len(s.targets)).Msg("running ingestion job")

	var wg sync.WaitGroup
	for _, t := range s.targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			tl := logger.With().Str("target", t.String()).Logger()
			ctx = tl.WithContext(ctx)

			s.ingest(ctx, t)
		}()
	}
	wg.Wait()

	logger.Info().Msg("completed ingestion job")
}

func (s *Scheduler) ingest(ctx context.Context, t config.Target) {
	log := zerolog.Ctx(ctx)

	criteria := query.LatestCriteria{City: t.City, Country: t.Country}
	if t.Coordinates != nil {
		criteria = query.LatestCriteria{Latitude: &t.Coordinates.Latitude, Longitude: &t.Coordinates.Longitude}
	}

	aq, err := s.service.LatestAirQuality(ctx, criteria)
	if err != nil {
		log.Error().Err(err).Msg("air quality ingestion failed")
	} else {
		log.Info().Int("locations", len(aq.Records)).Int("skipped", len(aq.Skipped)).Msg("ingested air quality")
	}

	if t.Coordinates == nil {
		return
	}

	w, err := s.service.CurrentWeather(ctx, query.WeatherCriteria{Latitude: &t.Coordinates.Latitude, Longitude: &t.Coordinates.Longitude})
	if err != nil {
		log.Error().Err(err).Msg("weather ingestion failed")
		return
	}
	log.Info().Int("locations", len(w.Records)).Int("skipped", len(w.Skipped)).Msg("ingested weather")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
