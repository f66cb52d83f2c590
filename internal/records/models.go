package records

import (
	"time"

	"github.com/google/uuid"
)

// Data source labels stamped on canonical records.
const (
	SourceOpenAQ         = "openaq"
	SourceOpenWeatherMap = "openweathermap"
)

// Location is a monitoring site or weather station shared by both sources.
// (Source, SourceID) identifies the upstream entity when the upstream exposes an id.
type Location struct {
	ID            uuid.UUID `json:"id"`
	Source        string    `json:"source" validate:"required"`
	SourceID      string    `json:"source_id,omitempty"`
	Name          string    `json:"name" validate:"required"`
	City          string    `json:"city"`
	Country       string    `json:"country"`
	Latitude      float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude     float64   `json:"longitude" validate:"gte=-180,lte=180"`
	FirstDetected time.Time `json:"first_detected"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Measurement is a single pollutant reading owned by a Location.
type Measurement struct {
	ID         uuid.UUID `json:"id"`
	LocationID uuid.UUID `json:"location_id"`
	Parameter  string    `json:"parameter" validate:"required"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit" validate:"required"`
	Timestamp  time.Time `json:"timestamp" validate:"required"` // always UTC
	DataSource string    `json:"data_source" validate:"required"`
}

// WeatherObservation is a current or forecast weather reading owned by a Location.
// Pointer fields are optional upstream and stay nil when the upstream omits them.
type WeatherObservation struct {
	ID         uuid.UUID `json:"id"`
	LocationID uuid.UUID `json:"location_id"`
	Timestamp  time.Time `json:"timestamp" validate:"required"` // always UTC
	DataSource string    `json:"data_source" validate:"required"`
	Units      string    `json:"units" validate:"oneof=metric imperial standard"`

	Temperature float64 `json:"temp"`
	FeelsLike   float64 `json:"feels_like"`
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
	Pressure    float64 `json:"pressure" validate:"gte=0"`
	Humidity    float64 `json:"humidity" validate:"gte=0,lte=100"`
	Visibility  *int    `json:"visibility,omitempty" validate:"omitempty,gte=0"`

	WindSpeed float64  `json:"wind_speed" validate:"gte=0"`
	WindDeg   float64  `json:"wind_deg" validate:"gte=0,lte=360"`
	WindGust  *float64 `json:"wind_gust,omitempty" validate:"omitempty,gte=0"`

	Clouds float64 `json:"clouds_all" validate:"gte=0,lte=100"`

	ConditionID int    `json:"weather_id"`
	Main        string `json:"weather_main"`
	Description string `json:"weather_description"`
	Icon        string `json:"weather_icon"`

	RainVolume        *float64 `json:"rain_volume,omitempty" validate:"omitempty,gte=0"`
	SnowVolume        *float64 `json:"snow_volume,omitempty" validate:"omitempty,gte=0"`
	PrecipProbability *float64 `json:"precip_probability,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ParameterSummary describes the stored readings of one parameter over a window.
type ParameterSummary struct {
	Parameter string    `json:"parameter"`
	Unit      string    `json:"unit"`
	Count     int       `json:"count"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Mean      float64   `json:"mean"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
}
