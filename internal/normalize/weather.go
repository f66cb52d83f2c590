package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/i474232898/air-weather-aggregation/internal/records"
)

type owCoord struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type owCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owMain struct {
	Temp      *float64 `json:"temp"`
	FeelsLike *float64 `json:"feels_like"`
	TempMin   *float64 `json:"temp_min"`
	TempMax   *float64 `json:"temp_max"`
	Pressure  *float64 `json:"pressure"`
	Humidity  *float64 `json:"humidity"`
}

type owWind struct {
	Speed *float64 `json:"speed"`
	Deg   *float64 `json:"deg"`
	Gust  *float64 `json:"gust"`
}

type owClouds struct {
	All *float64 `json:"all"`
}

// owPrecip is the rain or snow block, reported per 1h or 3h bucket.
type owPrecip struct {
	OneHour    *float64 `json:"1h"`
	ThreeHours *float64 `json:"3h"`
}

// owEntry is shared by the current weather payload and every forecast list item.
type owEntry struct {
	Dt         *int64        `json:"dt"`
	Main       *owMain       `json:"main"`
	Weather    []owCondition `json:"weather"`
	Wind       *owWind       `json:"wind"`
	Clouds     *owClouds     `json:"clouds"`
	Visibility *int          `json:"visibility"`
	Pop        *float64      `json:"pop"`
	Rain       *owPrecip     `json:"rain"`
	Snow       *owPrecip     `json:"snow"`
}

type owCurrent struct {
	owEntry
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Coord *owCoord        `json:"coord"`
	Sys   struct {
		Country string `json:"country"`
	} `json:"sys"`
}

type owCity struct {
	ID      json.RawMessage `json:"id"`
	Name    string          `json:"name"`
	Coord   *owCoord        `json:"coord"`
	Country string          `json:"country"`
}

type owForecast struct {
	List []json.RawMessage `json:"list"`
	City *owCity           `json:"city"`
}

// CurrentWeather maps a current weather payload onto one WeatherReadings with a single
// observation. A payload that cannot be normalized yields no records.
func CurrentWeather(ctx context.Context, body json.RawMessage, units string, seenAt time.Time) Result[WeatherReadings] {
	c := newCollector[WeatherReadings](ctx, KindCurrent)

	var payload owCurrent
	if err := json.Unmarshal(body, &payload); err != nil {
		c.skip(0, "decode: %v", err)
		return c.result()
	}

	loc, err := weatherLocation(payload.ID, payload.Name, payload.Sys.Country, payload.Coord, seenAt)
	if err != nil {
		c.skip(0, "%v", err)
		return c.result()
	}

	obs, err := payload.owEntry.observation(units)
	if err != nil {
		c.skip(0, "%v", err)
		return c.result()
	}

	c.add(WeatherReadings{Location: loc, Observations: []records.WeatherObservation{obs}})
	return c.result()
}

// Forecast maps a forecast payload onto one WeatherReadings holding an observation per valid
// list entry, in upstream order.
func Forecast(ctx context.Context, body json.RawMessage, units string, seenAt time.Time) Result[WeatherReadings] {
	c := newCollector[WeatherReadings](ctx, KindForecast)

	var payload owForecast
	if err := json.Unmarshal(body, &payload); err != nil {
		c.skip(envelopeIndex, "decode: %v", err)
		return c.result()
	}
	if payload.City == nil {
		c.skip(envelopeIndex, "city block is missing")
		return c.result()
	}

	loc, err := weatherLocation(payload.City.ID, payload.City.Name, payload.City.Country, payload.City.Coord, seenAt)
	if err != nil {
		c.skip(envelopeIndex, "%v", err)
		return c.result()
	}

	readings := WeatherReadings{Location: loc}
	for i, item := range payload.List {
		var entry owEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			c.skip(i, "decode: %v", err)
			continue
		}
		obs, err := entry.observation(units)
		if err != nil {
			c.skip(i, "%v", err)
			continue
		}
		readings.Observations = append(readings.Observations, obs)
	}

	if len(readings.Observations) > 0 {
		c.add(readings)
	}
	return c.result()
}

func weatherLocation(rawID json.RawMessage, name, country string, coord *owCoord, seenAt time.Time) (records.Location, error) {
	if coord == nil || coord.Lat == nil || coord.Lon == nil {
		return records.Location{}, errors.New("coord is missing")
	}

	id, err := firstID(rawID)
	if err != nil {
		return records.Location{}, err
	}
	// OpenWeatherMap reports id 0 for points without a named station.
	if id == "0" {
		id = ""
	}

	if name == "" {
		name = strconv.FormatFloat(*coord.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(*coord.Lon, 'f', 4, 64)
	}

	return records.Location{
		Source:        records.SourceOpenWeatherMap,
		SourceID:      id,
		Name:          name,
		City:          name,
		Country:       country,
		Latitude:      *coord.Lat,
		Longitude:     *coord.Lon,
		FirstDetected: seenAt.UTC(),
		LastUpdated:   seenAt.UTC(),
	}, nil
}

func (e owEntry) observation(units string) (records.WeatherObservation, error) {
	if e.Dt == nil {
		return records.WeatherObservation{}, errors.New("dt is missing")
	}
	if e.Main == nil || e.Main.Temp == nil || e.Main.Pressure == nil || e.Main.Humidity == nil {
		return records.WeatherObservation{}, errors.New("main.temp, main.pressure or main.humidity is missing")
	}
	if e.Wind == nil || e.Wind.Speed == nil {
		return records.WeatherObservation{}, errors.New("wind.speed is missing")
	}
	if e.Clouds == nil || e.Clouds.All == nil {
		return records.WeatherObservation{}, errors.New("clouds.all is missing")
	}

	temp := *e.Main.Temp
	obs := records.WeatherObservation{
		Timestamp:   time.Unix(*e.Dt, 0).UTC(),
		DataSource:  records.SourceOpenWeatherMap,
		Units:       units,
		Temperature: temp,
		FeelsLike:   valueOr(e.Main.FeelsLike, temp),
		TempMin:     valueOr(e.Main.TempMin, temp),
		TempMax:     valueOr(e.Main.TempMax, temp),
		Pressure:    *e.Main.Pressure,
		Humidity:    *e.Main.Humidity,
		Visibility:  e.Visibility,
		WindSpeed:   *e.Wind.Speed,
		WindDeg:     valueOr(e.Wind.Deg, 0),
		WindGust:    e.Wind.Gust,
		Clouds:      *e.Clouds.All,
		RainVolume:  e.Rain.volume(),
		SnowVolume:  e.Snow.volume(),
	}
	if e.Pop != nil {
		pop := *e.Pop
		obs.PrecipProbability = &pop
	}

	if len(e.Weather) > 0 {
		w := e.Weather[0]
		obs.ConditionID = w.ID
		obs.Main = w.Main
		obs.Description = w.Description
		obs.Icon = w.Icon
	}

	return obs, nil
}

// volume coalesces the buckets: the 1h bucket wins when present, then the 3h bucket.
// A block without either bucket has no volume.
func (p *owPrecip) volume() *float64 {
	if p == nil {
		return nil
	}
	var v float64
	switch {
	case p.OneHour != nil:
		v = *p.OneHour
	case p.ThreeHours != nil:
		v = *p.ThreeHours
	default:
		return nil
	}
	return &v
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
