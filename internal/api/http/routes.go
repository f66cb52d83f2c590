package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/air-weather-aggregation/internal/common"
	"github.com/i474232898/air-weather-aggregation/internal/normalize"
	"github.com/i474232898/air-weather-aggregation/internal/providers"
	"github.com/i474232898/air-weather-aggregation/internal/query"
	"github.com/i474232898/air-weather-aggregation/internal/records"
	"github.com/i474232898/air-weather-aggregation/internal/store"
)

const serviceName = "air-weather-aggregation"

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *query.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})

	v1.Get("/aqi/latest", func(c *fiber.Ctx) error {
		lat, lon, err := optionalPoint(c)
		if err != nil {
			return err
		}

		res, err := service.LatestAirQuality(c.UserContext(), query.LatestCriteria{
			City:      c.Query("city"),
			Country:   c.Query("country"),
			Latitude:  lat,
			Longitude: lon,
		})
		if err != nil {
			return err
		}
		if len(res.Records) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no air quality data found for requested location")
		}

		return c.JSON(resultBody(res.Records, res.Skipped))
	})

	v1.Get("/locations", func(c *fiber.Ctx) error {
		limit, err := intQuery(c, "limit")
		if err != nil {
			return err
		}

		res, err := service.Locations(c.UserContext(), query.LocationCriteria{
			City:    c.Query("city"),
			Country: c.Query("country"),
			Limit:   limit,
		})
		if err != nil {
			return err
		}

		return c.JSON(resultBody(res.Records, res.Skipped))
	})

	v1.Get("/aqi/historical/:location_id", func(c *fiber.Ctx) error {
		from, err := timeQuery(c, "date_from")
		if err != nil {
			return err
		}
		to, err := timeQuery(c, "date_to")
		if err != nil {
			return err
		}
		limit, err := intQuery(c, "limit")
		if err != nil {
			return err
		}

		res, err := service.HistoricalAirQuality(c.UserContext(), query.HistoryCriteria{
			LocationID: c.Params("location_id"),
			From:       from,
			To:         to,
			Limit:      limit,
		})
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"location_id": c.Params("location_id"),
			"date_from":   from,
			"date_to":     to,
			"count":       len(res.Records),
			"results":     res.Records,
			"skipped":     skippedOrEmpty(res.Skipped),
		})
	})

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		lat, lon, err := optionalPoint(c)
		if err != nil {
			return err
		}

		res, err := service.CurrentWeather(c.UserContext(), query.WeatherCriteria{
			Latitude:  lat,
			Longitude: lon,
			Units:     c.Query("units"),
		})
		if err != nil {
			return err
		}
		if len(res.Records) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no weather data found for requested location")
		}

		return c.JSON(resultBody(res.Records, res.Skipped))
	})

	v1.Get("/weather/forecast", func(c *fiber.Ctx) error {
		lat, lon, err := optionalPoint(c)
		if err != nil {
			return err
		}
		cnt, err := intQuery(c, "cnt")
		if err != nil {
			return err
		}

		res, err := service.Forecast(c.UserContext(), query.ForecastCriteria{
			WeatherCriteria: query.WeatherCriteria{
				Latitude:  lat,
				Longitude: lon,
				Units:     c.Query("units"),
			},
			Count: cnt,
		})
		if err != nil {
			return err
		}

		return c.JSON(resultBody(res.Records, res.Skipped))
	})

	registerStoreRoutes(v1, service)
}

func registerStoreRoutes(v1 fiber.Router, service *query.Service) {
	st := v1.Group("/store/locations")

	st.Get("/", func(c *fiber.Ctx) error {
		limit, err := intQuery(c, "limit")
		if err != nil {
			return err
		}
		locs, err := service.StoredLocations(c.UserContext(), limit)
		if err != nil {
			return err
		}
		return c.JSON(resultBody(locs, nil))
	})

	st.Get("/:id", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		loc, err := service.StoredLocation(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(loc)
	})

	st.Get("/:id/measurements", func(c *fiber.Ctx) error {
		criteria, err := storedCriteria(c)
		if err != nil {
			return err
		}
		ms, err := service.StoredMeasurements(c.UserContext(), criteria)
		if err != nil {
			return err
		}
		return c.JSON(resultBody(ms, nil))
	})

	st.Get("/:id/weather", func(c *fiber.Ctx) error {
		criteria, err := storedCriteria(c)
		if err != nil {
			return err
		}
		obs, err := service.StoredWeather(c.UserContext(), criteria)
		if err != nil {
			return err
		}
		return c.JSON(resultBody(obs, nil))
	})

	st.Get("/:id/summary", func(c *fiber.Ctx) error {
		criteria, err := storedCriteria(c)
		if err != nil {
			return err
		}
		criteria.Limit = 0
		summaries, err := service.Summary(c.UserContext(), criteria)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"location_id": criteria.LocationID,
			"date_from":   nullableTime(criteria.From),
			"date_to":     nullableTime(criteria.To),
			"parameters":  summariesOrEmpty(summaries),
		})
	})
}

func resultBody[T any](results []T, skipped []normalize.Skip) fiber.Map {
	if results == nil {
		results = []T{}
	}
	return fiber.Map{
		"count":   len(results),
		"results": results,
		"skipped": skippedOrEmpty(skipped),
	}
}

func skippedOrEmpty(s []normalize.Skip) []normalize.Skip {
	if s == nil {
		return []normalize.Skip{}
	}
	return s
}

func summariesOrEmpty(s []records.ParameterSummary) []records.ParameterSummary {
	if s == nil {
		return []records.ParameterSummary{}
	}
	return s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func badRequest(field, reason string) error {
	return &query.BadRequestError{Field: field, Reason: reason}
}

// optionalPoint parses latitude/longitude when present; pairing rules are left to the query layer.
func optionalPoint(c *fiber.Ctx) (*float64, *float64, error) {
	lat, err := floatQuery(c, "latitude")
	if err != nil {
		return nil, nil, err
	}
	lon, err := floatQuery(c, "longitude")
	if err != nil {
		return nil, nil, err
	}
	return lat, lon, nil
}

func floatQuery(c *fiber.Ctx, key string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, badRequest(key, "must be a number")
	}
	return &v, nil
}

func intQuery(c *fiber.Ctx, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(key, "must be an integer")
	}
	return v, nil
}

func timeQuery(c *fiber.Ctx, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := common.ParseTime(raw)
	if err != nil {
		return time.Time{}, badRequest(key, "must be an ISO-8601 timestamp or unix seconds")
	}
	return ts, nil
}

func idParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, badRequest("id", "must be a UUID")
	}
	return id, nil
}

func storedCriteria(c *fiber.Ctx) (query.StoredCriteria, error) {
	id, err := idParam(c)
	if err != nil {
		return query.StoredCriteria{}, err
	}
	from, err := timeQuery(c, "date_from")
	if err != nil {
		return query.StoredCriteria{}, err
	}
	to, err := timeQuery(c, "date_to")
	if err != nil {
		return query.StoredCriteria{}, err
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		return query.StoredCriteria{}, err
	}
	return query.StoredCriteria{
		LocationID: id,
		Parameter:  c.Query("parameter"),
		From:       from,
		To:         to,
		Limit:      limit,
	}, nil
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		fe   *fiber.Error
		uerr *providers.UpstreamError
		verr *records.ValidationError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, query.ErrBadRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.As(err, &uerr):
		if uerr.Transient {
			return fiber.StatusServiceUnavailable
		}
		return fiber.StatusBadGateway
	case errors.As(err, &verr):
		return fiber.StatusInternalServerError
	case errors.Is(err, query.ErrNoStore):
		return fiber.StatusNotImplemented
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders every handler error as {"error": true, "message": ...}.
// Server side failures are logged in full and answered with the bare status text.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	message := err.Error()
	if code >= fiber.StatusInternalServerError {
		zerolog.Ctx(c.UserContext()).Error().Err(err).Int("status", code).Str("path", c.Path()).Msg("request failed")
		message = utils.StatusMessage(code)
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

// RequestLogger attaches a request-scoped logger to the user context.
func RequestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqLogger := logger.With().
			Str("request_id", uuid.NewString()).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Logger()
		c.SetUserContext(reqLogger.WithContext(c.UserContext()))
		return c.Next()
	}
}
