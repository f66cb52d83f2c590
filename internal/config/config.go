package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/air-weather-aggregation/internal/providers"
)

// Target is one place the scheduler ingests. City is used for air quality; when
// Coordinates is set, air quality is looked up by point and current weather is ingested too.
type Target struct {
	City        string
	Country     string
	Coordinates *providers.Coordinates
}

func (t Target) String() string {
	if t.Coordinates != nil {
		return fmt.Sprintf("%g,%g", t.Coordinates.Latitude, t.Coordinates.Longitude)
	}
	if t.Country != "" {
		return t.City + ":" + t.Country
	}
	return t.City
}

type AppConfig struct {
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	OpenAQAPIKey       string
	OpenAQBaseURL      string

	// HTTPTimeout bounds every upstream call.
	HTTPTimeout time.Duration

	// DatabaseURL selects the Postgres store; empty keeps data in memory.
	DatabaseURL string

	// In-memory store retention: max rows per location per table (0 = unlimited).
	StoreMaxHistory int

	// PersistQueries records the results of API queries, not only scheduled ingestion.
	PersistQueries bool

	// FetchInterval controls how often we ingest data for each target.
	FetchInterval time.Duration

	// Targets to ingest.
	Targets []Target

	Port     string
	LogLevel zerolog.Level
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("no .env file loaded")
	}
	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	if strings.TrimSpace(cfg.OpenWeatherAPIKey) == "" {
		return nil, &providers.ConfigError{Key: "OPENWEATHER_API_KEY"}
	}
	cfg.OpenWeatherBaseURL = getenvDefault("OPENWEATHER_BASE_URL", providers.DefaultOpenWeatherBaseURL)
	cfg.OpenAQAPIKey = os.Getenv("OPENAQ_API_KEY")
	cfg.OpenAQBaseURL = getenvDefault("OPENAQ_BASE_URL", providers.DefaultOpenAQBaseURL)

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", providers.DefaultTimeout); err != nil {
		return nil, err
	}

	// Scheduler interval: default 15 minutes.
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 0)
	cfg.PersistQueries = getenvBool("PERSIST_QUERIES", false)
	cfg.Port = getenvDefault("PORT", "8080")

	level, err := zerolog.ParseLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	targets, err := loadTargets()
	if err != nil {
		return nil, err
	}
	cfg.Targets = targets

	return cfg, nil
}

func loadTargets() ([]Target, error) {
	var targets []Target

	cities := splitList(os.Getenv("INGEST_CITIES"))
	countries := splitList(os.Getenv("INGEST_COUNTRIES"))
	if len(countries) > 0 && len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}
	for i, city := range cities {
		t := Target{City: city}
		if len(countries) > 0 {
			t.Country = countries[i]
		}
		targets = append(targets, t)
	}

	for _, pair := range splitList(os.Getenv("INGEST_COORDINATES")) {
		c, err := parseCoordinates(pair)
		if err != nil {
			return nil, fmt.Errorf("invalid INGEST_COORDINATES entry %q: %w", pair, err)
		}
		targets = append(targets, Target{Coordinates: &c})
	}

	return targets, nil
}

// parseCoordinates reads "lat:lon".
func parseCoordinates(s string) (providers.Coordinates, error) {
	latStr, lonStr, ok := strings.Cut(s, ":")
	if !ok {
		return providers.Coordinates{}, fmt.Errorf("expected lat:lon")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return providers.Coordinates{}, fmt.Errorf("latitude must be a number in [-90, 90]")
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil || lon < -180 || lon > 180 {
		return providers.Coordinates{}, fmt.Errorf("longitude must be a number in [-180, 180]")
	}
	return providers.Coordinates{Latitude: lat, Longitude: lon}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
