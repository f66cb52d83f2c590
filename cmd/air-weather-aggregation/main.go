package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	httpapi "github.com/i474232898/air-weather-aggregation/internal/api/http"
	"github.com/i474232898/air-weather-aggregation/internal/config"
	"github.com/i474232898/air-weather-aggregation/internal/providers"
	"github.com/i474232898/air-weather-aggregation/internal/query"
	"github.com/i474232898/air-weather-aggregation/internal/scheduler"
	"github.com/i474232898/air-weather-aggregation/internal/store"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "air-weather-aggregation").Logger()
	zerolog.DefaultContextLogger = &log

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	log = log.Level(cfg.LogLevel)
	zerolog.DefaultContextLogger = &log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	// Shared HTTP client for outbound upstream calls.
	httpCfg := providers.HTTPClientConfig{
		Client:  providers.NewHTTPClient(cfg.HTTPTimeout),
		Timeout: cfg.HTTPTimeout,
	}

	openAQ := providers.NewOpenAQProvider(httpCfg, cfg.OpenAQBaseURL, cfg.OpenAQAPIKey)
	openWeather, err := providers.NewOpenWeatherProvider(httpCfg, cfg.OpenWeatherBaseURL, cfg.OpenWeatherAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure weather provider")
	}

	// Postgres when configured, in-memory otherwise.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure schema")
		}
		st = pg
		log.Info().Msg("using postgres store")
	} else {
		st = store.NewMemoryStore(cfg.StoreMaxHistory)
		log.Info().Int("max_history", cfg.StoreMaxHistory).Msg("using in-memory store")
	}

	recorder := store.NewRecorder(st)
	service := query.NewService(openAQ, openWeather, query.WithStore(st))

	// API queries are only persisted on request; scheduled ingestion always is.
	apiService := service
	if cfg.PersistQueries {
		apiService = service.WithSink(recorder)
	}

	sched := scheduler.New(cfg.Targets, cfg.FetchInterval, service.WithSink(recorder), log)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "air-weather-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          2 * cfg.HTTPTimeout,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(httpapi.RequestLogger(log))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, apiService)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
