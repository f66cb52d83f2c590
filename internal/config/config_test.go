package config

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/i474232898/air-weather-aggregation/internal/providers"
)

func TestLoadRequiresOpenWeatherKey(t *testing.T) {
	is := is.New(t)
	t.Setenv("OPENWEATHER_API_KEY", "")

	_, err := Load()

	var cerr *providers.ConfigError
	is.True(errors.As(err, &cerr))
	is.Equal(cerr.Key, "OPENWEATHER_API_KEY")
}

func TestLoadDefaults(t *testing.T) {
	is := is.New(t)
	t.Setenv("OPENWEATHER_API_KEY", "secret")
	for _, key := range []string{"HTTP_TIMEOUT", "FETCH_INTERVAL", "PORT", "LOG_LEVEL", "INGEST_CITIES", "INGEST_COUNTRIES", "INGEST_COORDINATES", "DATABASE_URL", "PERSIST_QUERIES"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	is.NoErr(err)

	is.Equal(cfg.HTTPTimeout, 10*time.Second)
	is.Equal(cfg.FetchInterval, 15*time.Minute)
	is.Equal(cfg.Port, "8080")
	is.Equal(cfg.LogLevel, zerolog.InfoLevel)
	is.Equal(cfg.OpenAQBaseURL, providers.DefaultOpenAQBaseURL)
	is.Equal(len(cfg.Targets), 0)
	is.True(!cfg.PersistQueries)
}

func TestLoadTargets(t *testing.T) {
	is := is.New(t)
	t.Setenv("OPENWEATHER_API_KEY", "secret")
	t.Setenv("INGEST_CITIES", "Delhi, London")
	t.Setenv("INGEST_COUNTRIES", "IN,GB")
	t.Setenv("INGEST_COORDINATES", "28.63:77.22")

	cfg, err := Load()
	is.NoErr(err)

	is.Equal(len(cfg.Targets), 3)
	is.Equal(cfg.Targets[1].City, "London")
	is.Equal(cfg.Targets[1].Country, "GB")
	is.Equal(cfg.Targets[2].Coordinates.Latitude, 28.63)
	is.Equal(cfg.Targets[2].String(), "28.63,77.22")
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string][2]string{
		"mismatched countries": {"INGEST_COUNTRIES", "IN,GB,FR"},
		"bad coordinates":      {"INGEST_COORDINATES", "91:0"},
		"bad interval":         {"FETCH_INTERVAL", "soon"},
		"bad log level":        {"LOG_LEVEL", "loud"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			t.Setenv("OPENWEATHER_API_KEY", "secret")
			t.Setenv("INGEST_CITIES", "Delhi")
			t.Setenv("INGEST_COUNTRIES", "")
			t.Setenv(kv[0], kv[1])

			_, err := Load()
			is.True(err != nil)
		})
	}
}
