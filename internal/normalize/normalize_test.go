package normalize

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/i474232898/air-weather-aggregation/internal/records"
)

var calledAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rawList(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestLatestAirQualityOneMeasurementPerTriple(t *testing.T) {
	is := is.New(t)

	raw := rawList(`{
		"location": "Anand Vihar",
		"city": "Delhi",
		"country": "IN",
		"coordinates": {"latitude": 28.6508, "longitude": 77.3152},
		"measurements": [
			{"parameter": "PM2.5", "value": 180.5, "unit": "µg/m³", "lastUpdated": "2024-03-01T11:00:00Z"},
			{"parameter": "pm10", "value": 310, "unit": "µg/m³"},
			{"parameter": "o3", "value": 12.2, "unit": "ppb"}
		]
	}`)

	res := LatestAirQuality(context.Background(), raw, calledAt)

	is.Equal(len(res.Skipped), 0)
	is.Equal(len(res.Records), 1)

	r := res.Records[0]
	is.Equal(r.Location.Name, "Anand Vihar")
	is.Equal(r.Location.Source, records.SourceOpenAQ)
	is.Equal(len(r.Measurements), 3)
	is.Equal(r.Measurements[0].Parameter, "pm25")
	is.Equal(r.Measurements[1].Value, 310.0)
	for _, m := range r.Measurements {
		// no parent lastUpdated, so the call time stamps every triple
		is.Equal(m.Timestamp, calledAt)
		is.Equal(m.DataSource, records.SourceOpenAQ)
	}
}

func TestLatestAirQualityUsesParentUpdateTime(t *testing.T) {
	is := is.New(t)

	raw := rawList(`{
		"name": "Station 7",
		"location_id": 8118,
		"coordinates": {"latitude": 1, "longitude": 2},
		"last_updated": "2024-03-01T10:30:00+00:00",
		"measurements": [{"parameter": "no2", "value": 20, "unit": "ppb"}]
	}`)

	res := LatestAirQuality(context.Background(), raw, calledAt)

	is.Equal(len(res.Records), 1)
	r := res.Records[0]
	is.Equal(r.Location.Name, "Station 7")
	is.Equal(r.Location.SourceID, "8118")
	is.Equal(r.Measurements[0].Timestamp, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC))
}

func TestLatestAirQualitySkipsBadTriplesOnly(t *testing.T) {
	is := is.New(t)

	raw := rawList(`{
		"location": "X",
		"coordinates": {"latitude": 1, "longitude": 2},
		"measurements": [
			{"parameter": "pm25", "value": 10, "unit": "µg/m³"},
			{"parameter": "pm10", "value": "high", "unit": "µg/m³"},
			{"parameter": "so2", "unit": "ppb"}
		]
	}`)

	res := LatestAirQuality(context.Background(), raw, calledAt)

	is.Equal(len(res.Records), 1)
	is.Equal(len(res.Records[0].Measurements), 1)
	is.Equal(len(res.Skipped), 2)
	is.Equal(res.Skipped[0].Kind, KindLatest)
}

func TestAirQualityLocationsSkipsNonNumericRecord(t *testing.T) {
	is := is.New(t)

	raw := rawList(
		`{"id": 1, "name": "a", "coordinates": {"latitude": 1, "longitude": 1}}`,
		`{"id": "2", "name": "b", "coordinates": {"latitude": 2, "longitude": 2}}`,
		`{"id": 3, "name": "c", "coordinates": {"latitude": "north", "longitude": 3}}`,
		`{"locationId": 4, "location": "d", "coordinates": {"latitude": 4, "longitude": 4}}`,
		`{"id": 5, "name": "e", "coordinates": {"latitude": 5, "longitude": 5}}`,
	)

	res := AirQualityLocations(context.Background(), raw, calledAt)

	is.Equal(len(res.Records), 4)
	is.Equal(len(res.Skipped), 1)
	is.Equal(res.Skipped[0].Index, 2)

	ids := []string{}
	for _, l := range res.Records {
		ids = append(ids, l.SourceID)
	}
	is.Equal(ids, []string{"1", "2", "4", "5"})
	is.Equal(res.Records[2].Name, "d")
}

func TestAirQualityLocationsRequiresCoordinates(t *testing.T) {
	is := is.New(t)

	res := AirQualityLocations(context.Background(), rawList(`{"id": 1, "name": "a"}`), calledAt)

	is.Equal(len(res.Records), 0)
	is.Equal(len(res.Skipped), 1)
}

func TestHistoricalMeasurementsOneToOne(t *testing.T) {
	is := is.New(t)

	raw := rawList(
		`{"locationId": 8118, "location": "Site", "parameter": "pm25", "value": 14.1, "unit": "µg/m³",
		  "date": {"utc": "2023-01-01T01:00:00Z"}, "coordinates": {"latitude": 10, "longitude": 20}}`,
		`{"locationId": 8118, "location": "Site", "parameter": "pm25", "value": 15.3, "unit": "µg/m³",
		  "date": {"utc": "2023-01-01T02:00:00Z"}, "coordinates": {"latitude": 10, "longitude": 20}}`,
		`{"locationId": 8118, "location": "Site", "parameter": "pm25", "value": 15.3, "unit": "µg/m³",
		  "coordinates": {"latitude": 10, "longitude": 20}}`,
	)

	res := HistoricalMeasurements(context.Background(), raw, calledAt)

	is.Equal(len(res.Records), 2)
	is.Equal(len(res.Skipped), 1)
	is.Equal(res.Records[0].Location.SourceID, "8118")
	is.Equal(res.Records[1].Measurements[0].Timestamp, time.Date(2023, 1, 1, 2, 0, 0, 0, time.UTC))
}

const currentPayload = `{
	"coord": {"lon": -0.1257, "lat": 51.5085},
	"weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}],
	"main": {"temp": 11.2, "feels_like": 10.4, "temp_min": 10.1, "temp_max": 12.3, "pressure": 1012, "humidity": 81},
	"visibility": 10000,
	"wind": {"speed": 4.1, "deg": 240},
	"clouds": {"all": 75},
	{{precip}}
	"dt": 1709294400,
	"sys": {"country": "GB"},
	"id": 2643743,
	"name": "London"
}`

func current(precip string) json.RawMessage {
	return json.RawMessage(strings.Replace(currentPayload, "{{precip}}", precip, 1))
}

func TestCurrentWeatherMapsFields(t *testing.T) {
	is := is.New(t)

	res := CurrentWeather(context.Background(), current(""), "metric", calledAt)

	is.Equal(len(res.Skipped), 0)
	is.Equal(len(res.Records), 1)

	r := res.Records[0]
	is.Equal(r.Location.Name, "London")
	is.Equal(r.Location.SourceID, "2643743")
	is.Equal(r.Location.Country, "GB")
	is.Equal(r.Location.Source, records.SourceOpenWeatherMap)

	is.Equal(len(r.Observations), 1)
	o := r.Observations[0]
	is.Equal(o.Timestamp, time.Unix(1709294400, 0).UTC())
	is.Equal(o.Units, "metric")
	is.Equal(o.Temperature, 11.2)
	is.Equal(o.Humidity, 81.0)
	is.Equal(o.Clouds, 75.0)
	is.Equal(o.ConditionID, 500)
	is.Equal(o.Description, "light rain")
	is.Equal(*o.Visibility, 10000)
	is.True(o.WindGust == nil)
	is.True(o.RainVolume == nil)
	is.True(o.SnowVolume == nil)
	is.True(o.PrecipProbability == nil)
}

func TestCurrentWeatherPrecipitationCoalescing(t *testing.T) {
	cases := map[string]struct {
		block string
		want  *float64
	}{
		"both buckets prefer 1h": {block: `"rain": {"1h": 2, "3h": 5},`, want: ptr(2)},
		"only 3h":                {block: `"rain": {"3h": 5},`, want: ptr(5)},
		"zero 1h still wins":     {block: `"rain": {"1h": 0, "3h": 5},`, want: ptr(0)},
		"empty block":            {block: `"rain": {},`, want: nil},
		"no block":               {block: ``, want: nil},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)

			res := CurrentWeather(context.Background(), current(tc.block), "metric", calledAt)
			is.Equal(len(res.Records), 1)

			got := res.Records[0].Observations[0].RainVolume
			if tc.want == nil {
				is.True(got == nil)
				return
			}
			is.True(got != nil)
			is.Equal(*got, *tc.want)
		})
	}
}

func TestCurrentWeatherMissingRequiredField(t *testing.T) {
	is := is.New(t)

	body := json.RawMessage(`{"coord": {"lon": 1, "lat": 2}, "main": {"temp": 11}, "dt": 1709294400, "name": "x"}`)
	res := CurrentWeather(context.Background(), body, "metric", calledAt)

	is.Equal(len(res.Records), 0)
	is.Equal(len(res.Skipped), 1)
	is.Equal(res.Skipped[0].Kind, KindCurrent)
}

func TestForecastNormalizesEachEntry(t *testing.T) {
	is := is.New(t)

	body := json.RawMessage(`{
		"cod": "200",
		"cnt": 3,
		"list": [
			{"dt": 1709294400, "main": {"temp": 5, "pressure": 1000, "humidity": 50}, "wind": {"speed": 2, "gust": 4.5},
			 "clouds": {"all": 20}, "pop": 0.4, "snow": {"3h": 1.25}, "weather": [{"id": 600, "main": "Snow"}]},
			{"dt": 1709305200, "main": {"temp": "cold", "pressure": 1000, "humidity": 50}, "wind": {"speed": 2}, "clouds": {"all": 20}},
			{"dt": 1709316000, "main": {"temp": 6, "pressure": 1001, "humidity": 55}, "wind": {"speed": 3, "deg": 90},
			 "clouds": {"all": 40}, "rain": {"1h": 0.3, "3h": 0.9}}
		],
		"city": {"id": 2643743, "name": "London", "coord": {"lat": 51.5085, "lon": -0.1257}, "country": "GB"}
	}`)

	res := Forecast(context.Background(), body, "imperial", calledAt)

	is.Equal(len(res.Records), 1)
	is.Equal(len(res.Skipped), 1)
	is.Equal(res.Skipped[0].Index, 1)

	r := res.Records[0]
	is.Equal(r.Location.Name, "London")
	is.Equal(len(r.Observations), 2)

	first := r.Observations[0]
	is.Equal(first.Units, "imperial")
	is.Equal(first.FeelsLike, 5.0)
	is.Equal(*first.WindGust, 4.5)
	is.Equal(*first.PrecipProbability, 0.4)
	is.Equal(*first.SnowVolume, 1.25)
	is.True(first.RainVolume == nil)

	second := r.Observations[1]
	is.Equal(*second.RainVolume, 0.3)
	is.Equal(second.WindDeg, 90.0)
}

func TestForecastWithoutCityIsSkipped(t *testing.T) {
	is := is.New(t)

	res := Forecast(context.Background(), json.RawMessage(`{"list": []}`), "metric", calledAt)

	is.Equal(len(res.Records), 0)
	is.Equal(len(res.Skipped), 1)
	is.Equal(res.Skipped[0].Index, envelopeIndex)
}

func TestWeatherLocationNameFallsBackToCoordinates(t *testing.T) {
	is := is.New(t)

	body := json.RawMessage(`{"coord": {"lon": 10.5, "lat": 20.25}, "main": {"temp": 1, "pressure": 1, "humidity": 1},
		"wind": {"speed": 1}, "clouds": {"all": 1}, "dt": 1, "id": 0, "name": ""}`)
	res := CurrentWeather(context.Background(), body, "standard", calledAt)

	is.Equal(len(res.Records), 1)
	is.Equal(res.Records[0].Location.Name, "20.2500,10.5000")
	is.Equal(res.Records[0].Location.SourceID, "")
}

func TestCanonicalParameter(t *testing.T) {
	is := is.New(t)

	is.Equal(canonicalParameter(" PM2.5 "), "pm25")
	is.Equal(canonicalParameter("O3"), "o3")
}

func ptr(v float64) *float64 {
	return &v
}
