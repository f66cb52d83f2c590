package records

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ClockSkew is how far in the future a measurement timestamp may lie.
const ClockSkew = 5 * time.Minute

// CoordinateEpsilon is the tolerance, in degrees, for treating two coordinates as the same site.
const CoordinateEpsilon = 1e-4

// ValidationError reports a canonical record that breaks an invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names so errors line up with the API payloads.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the Location invariants.
func (l Location) Validate() error {
	return fromValidator(validate.Struct(l))
}

// Validate checks the Measurement invariants against the reference time now.
func (m Measurement) Validate(now time.Time) error {
	if m.LocationID == uuid.Nil {
		return &ValidationError{Field: "location_id", Reason: "is required"}
	}
	return m.ValidateReading(now)
}

// ValidateReading checks every Measurement invariant except ownership, so a reading can be
// vetted before its location is stored.
func (m Measurement) ValidateReading(now time.Time) error {
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return &ValidationError{Field: "value", Reason: "must be a finite number"}
	}
	if err := fromValidator(validate.Struct(m)); err != nil {
		return err
	}
	if m.Timestamp.After(now.Add(ClockSkew)) {
		return &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("%s is in the future", m.Timestamp.Format(time.RFC3339))}
	}
	return nil
}

// Validate checks the WeatherObservation invariants. Forecast rows are future-dated by nature,
// so no clock check applies here.
func (o WeatherObservation) Validate() error {
	if o.LocationID == uuid.Nil {
		return &ValidationError{Field: "location_id", Reason: "is required"}
	}
	return o.ValidateReading()
}

// ValidateReading checks every WeatherObservation invariant except ownership.
func (o WeatherObservation) ValidateReading() error {
	return fromValidator(validate.Struct(o))
}

func fromValidator(err error) error {
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		fe := errs[0]
		reason := fmt.Sprintf("failed %s", fe.Tag())
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("%s (got %v)", reason, fe.Value())}
	}
	return err
}

// SameSite reports whether two coordinates are within CoordinateEpsilon of each other.
func SameSite(lat1, lon1, lat2, lon2 float64) bool {
	return math.Abs(lat1-lat2) <= CoordinateEpsilon && math.Abs(lon1-lon2) <= CoordinateEpsilon
}
