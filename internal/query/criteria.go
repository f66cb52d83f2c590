package query

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Bounds and defaults applied to criteria before validation.
const (
	DefaultLocationsLimit  = 100
	MaxLocationsLimit      = 1000
	DefaultHistoricalLimit = 1000
	MaxHistoricalLimit     = 10000
	DefaultForecastCount   = 40
	MaxForecastCount       = 40
	DefaultUnits           = "metric"
)

// ErrBadRequest matches every *BadRequestError with errors.Is.
var ErrBadRequest = errors.New("bad request")

// BadRequestError reports criteria that cannot be served. It is returned before any
// upstream call is made.
type BadRequestError struct {
	Field  string
	Reason string
}

func (e *BadRequestError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *BadRequestError) Is(target error) bool {
	return target == ErrBadRequest
}

// LatestCriteria selects latest air quality by city or by a full coordinate pair.
type LatestCriteria struct {
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// LocationCriteria filters upstream air quality locations.
type LocationCriteria struct {
	City    string `json:"city"`
	Country string `json:"country"`
	Limit   int    `json:"limit" validate:"gte=1,lte=1000"`
}

// HistoryCriteria selects historical measurements of one upstream location.
type HistoryCriteria struct {
	LocationID string    `json:"location_id" validate:"required"`
	From       time.Time `json:"date_from" validate:"required"`
	To         time.Time `json:"date_to" validate:"required,gtefield=From"`
	Limit      int       `json:"limit" validate:"gte=1,lte=10000"`
}

// WeatherCriteria selects current weather at a point.
type WeatherCriteria struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Units     string   `json:"units" validate:"oneof=metric imperial standard"`
}

// ForecastCriteria selects Count 3-hour forecast steps at a point.
type ForecastCriteria struct {
	WeatherCriteria
	Count int `json:"cnt" validate:"gte=1,lte=40"`
}

// StoredCriteria selects stored rows of one location. From and To are optional.
type StoredCriteria struct {
	LocationID uuid.UUID `json:"location_id"`
	Parameter  string    `json:"parameter"`
	From       time.Time `json:"date_from"`
	To         time.Time `json:"date_to"`
	Limit      int       `json:"limit" validate:"gte=0,lte=10000"`
}

type point struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *LatestCriteria) normalize() (*point, error) {
	c.City = strings.TrimSpace(c.City)
	c.Country = strings.TrimSpace(c.Country)
	if c.City != "" {
		return nil, nil
	}
	if c.Latitude == nil && c.Longitude == nil {
		return nil, &BadRequestError{Reason: "either city or latitude and longitude are required"}
	}
	return coordinates(c.Latitude, c.Longitude)
}

func (c *LocationCriteria) normalize() error {
	c.City = strings.TrimSpace(c.City)
	c.Country = strings.TrimSpace(c.Country)
	if c.Limit == 0 {
		c.Limit = DefaultLocationsLimit
	}
	return check(c)
}

func (c *HistoryCriteria) normalize() error {
	c.LocationID = strings.TrimSpace(c.LocationID)
	if c.Limit == 0 {
		c.Limit = DefaultHistoricalLimit
	}
	return check(c)
}

func (c *WeatherCriteria) normalize() (point, error) {
	if c.Units == "" {
		c.Units = DefaultUnits
	}
	p, err := coordinates(c.Latitude, c.Longitude)
	if err != nil {
		return point{}, err
	}
	return *p, check(c)
}

func (c *ForecastCriteria) normalize() (point, error) {
	if c.Count == 0 {
		c.Count = DefaultForecastCount
	}
	p, err := c.WeatherCriteria.normalize()
	if err != nil {
		return point{}, err
	}
	return p, check(c)
}

func (c *StoredCriteria) normalize() error {
	if c.LocationID == uuid.Nil {
		return &BadRequestError{Field: "location_id", Reason: "is required"}
	}
	if !c.From.IsZero() && !c.To.IsZero() && c.From.After(c.To) {
		return &BadRequestError{Field: "date_to", Reason: "must not be before date_from"}
	}
	c.Parameter = strings.ToLower(strings.TrimSpace(c.Parameter))
	return check(c)
}

func coordinates(lat, lon *float64) (*point, error) {
	if lat == nil || lon == nil {
		return nil, &BadRequestError{Reason: "latitude and longitude must be provided together"}
	}
	p := &point{Latitude: *lat, Longitude: *lon}
	if err := check(p); err != nil {
		return nil, err
	}
	return p, nil
}

// check runs the struct tags and reports the first failure as a *BadRequestError.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &BadRequestError{Reason: err.Error()}
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return &BadRequestError{Field: fe.Field(), Reason: "is required"}
	case "gtefield":
		return &BadRequestError{Field: fe.Field(), Reason: "must not be before date_from"}
	case "oneof":
		return &BadRequestError{Field: fe.Field(), Reason: fmt.Sprintf("must be one of %s", fe.Param())}
	case "gte":
		return &BadRequestError{Field: fe.Field(), Reason: fmt.Sprintf("must be at least %s", fe.Param())}
	case "lte":
		return &BadRequestError{Field: fe.Field(), Reason: fmt.Sprintf("must be at most %s", fe.Param())}
	default:
		return &BadRequestError{Field: fe.Field(), Reason: fmt.Sprintf("failed %s", fe.Tag())}
	}
}
