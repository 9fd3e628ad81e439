package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/metrics"
	"github.com/yegors/wxbench/internal/timealign"
	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

var (
	testRunAt = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	testLoc   = wx.Location{Latitude: 43.6532, Longitude: -79.3832, Timezone: "America/Toronto"}
)

func testAligner(t *testing.T) *timealign.Aligner {
	t.Helper()
	align, err := timealign.New(testRunAt, testLoc.Timezone)
	require.NoError(t, err)
	return align
}

func rawPayload(provider wx.Provider, endpoint string, body string) *wx.RawPayload {
	return &wx.RawPayload{
		ID:             7,
		Provider:       provider,
		Endpoint:       endpoint,
		RunAt:          testRunAt,
		ResponseStatus: 200,
		Body:           []byte(body),
	}
}

func findPoint(t *testing.T, points []wx.DataPoint, metric string) wx.DataPoint {
	t.Helper()
	for _, p := range points {
		if p.MetricType == metric {
			return p
		}
	}
	t.Fatalf("no data point for metric %s", metric)
	return wx.DataPoint{}
}

func findPoints(points []wx.DataPoint, metric string) []wx.DataPoint {
	var out []wx.DataPoint
	for _, p := range points {
		if p.MetricType == metric {
			out = append(out, p)
		}
	}
	return out
}

func TestKindForEndpoint(t *testing.T) {
	kind, ok := KindForEndpoint(EndpointObservation)
	require.True(t, ok)
	assert.Equal(t, wx.ProductObservation, kind)

	kind, ok = KindForEndpoint(EndpointForecastHourly)
	require.True(t, ok)
	assert.Equal(t, wx.ProductForecastHourly, kind)

	kind, ok = KindForEndpoint(EndpointForecastDaily)
	require.True(t, ok)
	assert.Equal(t, wx.ProductForecastDaily, kind)

	for _, endpoint := range []string{
		EndpointPrognosAirTemp, EndpointPrognosDewPoint, EndpointPrognosWindSpeed, EndpointPrognosWindDir,
	} {
		kind, ok = KindForEndpoint(endpoint)
		require.True(t, ok)
		assert.Equal(t, wx.ProductForecastHourly, kind)
	}

	_, ok = KindForEndpoint(EndpointLocationSearch)
	assert.False(t, ok)
}

func TestNormalizeUnknownProvider(t *testing.T) {
	raw := rawPayload(wx.Provider("nws"), EndpointObservation, `{}`)
	_, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))

	var mapErr *wx.MappingError
	require.ErrorAs(t, err, &mapErr)
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://api.example.com/data?lat=43.65&appid=secret123", []string{"appid"})
	assert.NotContains(t, got, "secret123")
	assert.Contains(t, got, "appid=REDACTED")
	assert.Contains(t, got, "lat=43.65")

	// Multiple secrets in one URL.
	got = redactURL("https://host/devices?applicationKey=aaa&apiKey=bbb", []string{"applicationKey", "apiKey"})
	assert.NotContains(t, got, "aaa")
	assert.NotContains(t, got, "bbb")

	// No secrets named: unchanged.
	plain := "https://host/items?f=json&limit=1"
	assert.Equal(t, plain, redactURL(plain, nil))

	// An unparsable URL never leaks as-is.
	assert.Equal(t, "REDACTED", redactURL("://host/items?apiKey=ccc", []string{"apiKey"}))
}

func TestOpenWeatherObservation(t *testing.T) {
	body := `{
		"coord": {"lat": 43.65, "lon": -79.38},
		"main": {"temp": 288.15, "feels_like": 287.0, "pressure": 1013.25, "humidity": 60},
		"wind": {"speed": 5.0, "deg": 270, "gust": 8.0},
		"clouds": {"all": 40},
		"rain": {"1h": 0.5},
		"weather": [{"description": "light rain"}],
		"visibility": 10000,
		"dt": 1749556800,
		"name": "Toronto"
	}`
	raw := rawPayload(wx.ProviderOpenWeather, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)

	temp := findPoint(t, points, metrics.TemperatureAir)
	assert.InDelta(t, 15.0, *temp.ValueNum, 1e-9)
	assert.Equal(t, metrics.UnitCelsius, temp.Unit)
	assert.Equal(t, "288.15", temp.ValueRaw)
	assert.Equal(t, "K", temp.UnitRaw)
	assert.Equal(t, "main.temp", temp.SourceField)
	assert.Equal(t, "Toronto", temp.Station)
	assert.Equal(t, 43.65, temp.Latitude)
	assert.Equal(t, time.Unix(1749556800, 0).UTC(), *temp.ObservedAt)
	assert.Equal(t, int64(7), temp.RawID)

	pressure := findPoint(t, points, metrics.PressureSeaLevel)
	assert.InDelta(t, 101.325, *pressure.ValueNum, 1e-9)

	wind := findPoint(t, points, metrics.WindSpeed)
	assert.InDelta(t, 18.0, *wind.ValueNum, 1e-9)

	vis := findPoint(t, points, metrics.Visibility)
	assert.InDelta(t, 10.0, *vis.ValueNum, 1e-9)

	cond := findPoint(t, points, metrics.ConditionText)
	assert.Equal(t, "light rain", *cond.ValueText)
	assert.Nil(t, cond.ValueNum)
}

func TestOpenWeatherObservationMissingTime(t *testing.T) {
	body := `{"coord": {"lat": 43.65, "lon": -79.38}, "main": {"temp": 288.15}}`
	raw := rawPayload(wx.ProviderOpenWeather, EndpointObservation, body)
	_, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))

	var mapErr *wx.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "dt", mapErr.Field)
}

func TestOpenWeatherHourlyForecast(t *testing.T) {
	// Entries at 13:00 and 14:00 UTC relative to a 12:00 run.
	body := `{
		"lat": 43.65, "lon": -79.38,
		"hourly": [
			{"dt": 1749560400, "temp": 289.15, "pop": 0.35, "rain": {"1h": 0.2}},
			{"dt": 1749564000, "temp": 290.15, "pop": 0.0}
		]
	}`
	raw := rawPayload(wx.ProviderOpenWeather, EndpointForecastHourly, body)
	points, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))
	require.NoError(t, err)

	temps := findPoints(points, metrics.TemperatureAir)
	require.Len(t, temps, 2)
	assert.Equal(t, 1, *temps[0].LeadOffset)
	assert.Equal(t, wx.LeadHour, temps[0].LeadUnit)
	assert.Equal(t, "+1h", temps[0].LeadLabel)
	assert.Equal(t, 2, *temps[1].LeadOffset)
	assert.Equal(t, temps[0].ValidStart.Add(time.Hour), *temps[0].ValidEnd)
	assert.Nil(t, temps[0].ObservedAt)

	// pop arrives as a 0..1 fraction and normalizes to percent.
	pops := findPoints(points, metrics.PrecipProbability)
	require.Len(t, pops, 2)
	assert.InDelta(t, 35.0, *pops[0].ValueNum, 1e-9)
	assert.Equal(t, "fraction", pops[0].UnitRaw)
}

func TestOpenWeatherDailyForecast(t *testing.T) {
	// 2025-06-11 16:00 UTC is the next local day in Toronto.
	body := `{
		"lat": 43.65, "lon": -79.38,
		"daily": [
			{"dt": 1749657600, "temp": {"min": 285.15, "max": 295.15, "day": 292.15}, "pop": 0.6}
		]
	}`
	raw := rawPayload(wx.ProviderOpenWeather, EndpointForecastDaily, body)
	points, err := Normalize(raw, wx.ProductForecastDaily, testLoc, testAligner(t))
	require.NoError(t, err)

	low := findPoint(t, points, metrics.TemperatureLow)
	assert.InDelta(t, 12.0, *low.ValueNum, 1e-9)
	high := findPoint(t, points, metrics.TemperatureHigh)
	assert.InDelta(t, 22.0, *high.ValueNum, 1e-9)

	assert.Equal(t, wx.LeadDay, high.LeadUnit)
	assert.Equal(t, 1, *high.LeadOffset)
	assert.Equal(t, "+1d", high.LeadLabel)
	assert.Equal(t, "2025-06-11", high.LocalDay)
	require.NotNil(t, high.LeadDayIndex)
	assert.Equal(t, 0, *high.LeadDayIndex)
}

func TestOpenWeatherForecastMissingEntries(t *testing.T) {
	raw := rawPayload(wx.ProviderOpenWeather, EndpointForecastHourly, `{"lat": 43.65, "lon": -79.38, "hourly": []}`)
	_, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))

	var mapErr *wx.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "hourly", mapErr.Field)
}

func TestTomorrowIOObservation(t *testing.T) {
	body := `{
		"data": {
			"time": "2025-06-10T12:00:00Z",
			"values": {
				"temperature": 15.5,
				"windSpeed": 5.0,
				"pressureSeaLevel": 1010.0,
				"visibility": 12.0,
				"rainIntensity": 0.4,
				"snowIntensity": 0.1
			}
		},
		"location": {"lat": 43.65, "lon": -79.38}
	}`
	raw := rawPayload(wx.ProviderTomorrowIO, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)

	temp := findPoint(t, points, metrics.TemperatureAir)
	assert.InDelta(t, 15.5, *temp.ValueNum, 1e-9)
	assert.Equal(t, "C", temp.UnitRaw)

	wind := findPoint(t, points, metrics.WindSpeed)
	assert.InDelta(t, 18.0, *wind.ValueNum, 1e-9)

	// Phase intensities sum into one liquid total.
	precip := findPoint(t, points, metrics.PrecipAmount)
	assert.InDelta(t, 0.5, *precip.ValueNum, 1e-9)
}

func TestTomorrowIOHourlyForecast(t *testing.T) {
	body := `{
		"timelines": {
			"hourly": [
				{"time": "2025-06-10T15:00:00Z", "values": {"temperature": 18.0, "precipitationProbability": 25, "rainAccumulation": 1.5}}
			]
		},
		"location": {"lat": 43.65, "lon": -79.38}
	}`
	raw := rawPayload(wx.ProviderTomorrowIO, EndpointForecastHourly, body)
	points, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))
	require.NoError(t, err)

	temp := findPoint(t, points, metrics.TemperatureAir)
	assert.Equal(t, 3, *temp.LeadOffset)

	// Probability is already a percentage.
	pop := findPoint(t, points, metrics.PrecipProbability)
	assert.InDelta(t, 25.0, *pop.ValueNum, 1e-9)

	// Accumulation wins over intensity when present.
	precip := findPoint(t, points, metrics.PrecipAmount)
	assert.InDelta(t, 1.5, *precip.ValueNum, 1e-9)
	assert.Contains(t, precip.SourceField, "rainAccumulation")
}

func TestTomorrowIODailyForecast(t *testing.T) {
	body := `{
		"timelines": {
			"daily": [
				{"time": "2025-06-11T10:00:00Z", "values": {"temperatureMin": 12.0, "temperatureMax": 22.0}}
			]
		},
		"location": {"lat": 43.65, "lon": -79.38}
	}`
	raw := rawPayload(wx.ProviderTomorrowIO, EndpointForecastDaily, body)
	points, err := Normalize(raw, wx.ProductForecastDaily, testLoc, testAligner(t))
	require.NoError(t, err)

	low := findPoint(t, points, metrics.TemperatureLow)
	assert.InDelta(t, 12.0, *low.ValueNum, 1e-9)
	assert.Equal(t, wx.LeadDay, low.LeadUnit)
	assert.Equal(t, 1, *low.LeadOffset)
	require.NotNil(t, low.LeadDayIndex)
	assert.Equal(t, 0, *low.LeadDayIndex)
}

func TestTomorrowIOMissingCoordinates(t *testing.T) {
	raw := rawPayload(wx.ProviderTomorrowIO, EndpointObservation, `{"data": {"time": "2025-06-10T12:00:00Z"}}`)
	_, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))

	var mapErr *wx.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "location", mapErr.Field)
}

func TestAccuWeatherLocationKey(t *testing.T) {
	key, err := accuWeatherLocationKey([]byte(`{"Key": "55488", "LocalizedName": "Toronto"}`))
	require.NoError(t, err)
	assert.Equal(t, "55488", key)

	_, err = accuWeatherLocationKey([]byte(`{"LocalizedName": "Toronto"}`))
	var mapErr *wx.MappingError
	require.ErrorAs(t, err, &mapErr)
}

func TestAccuWeatherObservation(t *testing.T) {
	body := `[{
		"EpochTime": 1749556800,
		"WeatherText": "Partly cloudy",
		"Temperature": {"Metric": {"Value": 15.0, "Unit": "C"}},
		"RelativeHumidity": 60,
		"Pressure": {"Metric": {"Value": 1013.0, "Unit": "mb"}},
		"Visibility": {"Metric": {"Value": 16.1, "Unit": "km"}},
		"Wind": {"Speed": {"Metric": {"Value": 18.0, "Unit": "km/h"}}, "Direction": {"Degrees": 270}},
		"PrecipitationSummary": {"PastHour": {"Metric": {"Value": 0.0, "Unit": "mm"}}}
	}]`
	raw := rawPayload(wx.ProviderAccuWeather, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)

	// The Metric-nested reading is used, and millibars convert to kPa.
	pressure := findPoint(t, points, metrics.PressureSeaLevel)
	assert.InDelta(t, 101.3, *pressure.ValueNum, 1e-9)
	assert.Equal(t, "mb", pressure.UnitRaw)

	temp := findPoint(t, points, metrics.TemperatureAir)
	assert.InDelta(t, 15.0, *temp.ValueNum, 1e-9)

	cond := findPoint(t, points, metrics.ConditionText)
	assert.Equal(t, "Partly cloudy", *cond.ValueText)
}

func TestAccuWeatherHourlyForecast(t *testing.T) {
	// Forecast entries report a flat Value/Unit pair.
	body := `[{
		"EpochDateTime": 1749560400,
		"IconPhrase": "Sunny",
		"Temperature": {"Value": 18.0, "Unit": "C"},
		"PrecipitationProbability": 20,
		"TotalLiquid": {"Value": 0.0, "Unit": "mm"}
	}]`
	raw := rawPayload(wx.ProviderAccuWeather, EndpointForecastHourly, body)
	points, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))
	require.NoError(t, err)

	temp := findPoint(t, points, metrics.TemperatureAir)
	assert.InDelta(t, 18.0, *temp.ValueNum, 1e-9)
	assert.Equal(t, 1, *temp.LeadOffset)

	pop := findPoint(t, points, metrics.PrecipProbability)
	assert.InDelta(t, 20.0, *pop.ValueNum, 1e-9)
}

func TestAccuWeatherDailyForecast(t *testing.T) {
	body := `{
		"DailyForecasts": [{
			"EpochDate": 1749643200,
			"Temperature": {
				"Minimum": {"Value": 12.0, "Unit": "C"},
				"Maximum": {"Value": 22.0, "Unit": "C"}
			},
			"Day": {
				"IconPhrase": "Showers",
				"PrecipitationProbability": 55,
				"TotalLiquid": {"Value": 3.2, "Unit": "mm"}
			}
		}]
	}`
	raw := rawPayload(wx.ProviderAccuWeather, EndpointForecastDaily, body)
	points, err := Normalize(raw, wx.ProductForecastDaily, testLoc, testAligner(t))
	require.NoError(t, err)

	high := findPoint(t, points, metrics.TemperatureHigh)
	assert.InDelta(t, 22.0, *high.ValueNum, 1e-9)
	assert.Equal(t, wx.LeadDay, high.LeadUnit)
	assert.Equal(t, 1, *high.LeadOffset)

	precip := findPoint(t, points, metrics.PrecipAmount)
	assert.InDelta(t, 3.2, *precip.ValueNum, 1e-9)

	cond := findPoint(t, points, metrics.ConditionText)
	assert.Equal(t, "Showers", *cond.ValueText)
}

func TestAccuWeatherLocationSearchNotNormalized(t *testing.T) {
	// The search payload is stored for traceability only.
	_, ok := KindForEndpoint(EndpointLocationSearch)
	assert.False(t, ok)
}

func TestMSCGeoMetObservation(t *testing.T) {
	body := `{
		"features": [{
			"geometry": {"coordinates": [-79.38, 43.65]},
			"properties": {
				"stationIdentifier": "YYZ",
				"observationTime": "2025-06-10T11:45:00Z",
				"airTemperature": 15.2,
				"seaLevelPressure": 101.3,
				"relativeHumidity": 62,
				"wind": {"speed": 14.0, "direction": 270},
				"presentWeather": "Mostly Cloudy"
			}
		}]
	}`
	raw := rawPayload(wx.ProviderMSCGeoMet, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)

	temp := findPoint(t, points, metrics.TemperatureAir)
	assert.InDelta(t, 15.2, *temp.ValueNum, 1e-9)
	assert.Equal(t, "YYZ", temp.Station)

	// Pressure arrives already in kilopascals.
	pressure := findPoint(t, points, metrics.PressureSeaLevel)
	assert.InDelta(t, 101.3, *pressure.ValueNum, 1e-9)
	assert.Equal(t, "kPa", pressure.UnitRaw)

	cond := findPoint(t, points, metrics.ConditionText)
	assert.Equal(t, "Mostly Cloudy", *cond.ValueText)
}

func TestMSCGeoMetPresentWeatherCodedList(t *testing.T) {
	body := `{
		"features": [{
			"geometry": {"coordinates": [-79.38, 43.65]},
			"properties": {
				"observationTime": "2025-06-10T11:45:00Z",
				"presentWeather": [{"value": "Light Rain", "code": 12}]
			}
		}]
	}`
	raw := rawPayload(wx.ProviderMSCGeoMet, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)

	cond := findPoint(t, points, metrics.ConditionText)
	assert.Equal(t, "Light Rain", *cond.ValueText)
}

func TestMSCGeoMetDerivedDaily(t *testing.T) {
	// A day period and a night period on 2025-06-11 local, plus a lone
	// period on 2025-06-12. Daily values are synthesized per civil day.
	body := `{
		"features": [{
			"geometry": {"coordinates": [-79.38, 43.65]},
			"properties": {
				"forecastIssueTime": "2025-06-10T11:00:00Z",
				"periods": [
					{"start": "2025-06-11T10:00:00Z", "end": "2025-06-11T22:00:00Z",
						"temperatureHigh": 22.0, "probabilityOfPrecipitation": 30,
						"totalPrecipitation": 1.0, "wind": {"speed": 20.0},
						"textSummary": "Chance of showers"},
					{"start": "2025-06-11T22:00:00Z", "end": "2025-06-12T10:00:00Z",
						"temperatureLow": 12.0, "probabilityOfPrecipitation": 60,
						"totalPrecipitation": 2.5, "wind": {"speed": 15.0},
						"textSummary": "Showers"},
					{"start": "2025-06-12T10:00:00Z", "end": "2025-06-12T22:00:00Z",
						"temperature": 19.0, "probabilityOfPrecipitation": 20,
						"textSummary": "Clearing"}
				]
			}
		}]
	}`
	raw := rawPayload(wx.ProviderMSCGeoMet, EndpointForecastDaily, body)
	points, err := Normalize(raw, wx.ProductForecastDaily, testLoc, testAligner(t))
	require.NoError(t, err)

	highs := findPoints(points, metrics.TemperatureHigh)
	require.Len(t, highs, 2)

	day1High := highs[0]
	assert.Equal(t, "2025-06-11", day1High.LocalDay)
	assert.InDelta(t, 22.0, *day1High.ValueNum, 1e-9)
	assert.Equal(t, 1, *day1High.LeadOffset)
	assert.Equal(t, qualityDerivedDaily, day1High.QualityFlag)
	require.NotNil(t, day1High.IssuedAt)

	// Worst-case probability and summed amount across the day's periods.
	pops := findPoints(points, metrics.PrecipProbability)
	assert.InDelta(t, 60.0, *pops[0].ValueNum, 1e-9)
	amounts := findPoints(points, metrics.PrecipAmount)
	assert.InDelta(t, 3.5, *amounts[0].ValueNum, 1e-9)
	winds := findPoints(points, metrics.WindSpeed)
	assert.InDelta(t, 20.0, *winds[0].ValueNum, 1e-9)

	lows := findPoints(points, metrics.TemperatureLow)
	assert.InDelta(t, 12.0, *lows[0].ValueNum, 1e-9)

	// The second day falls back to the plain temperature for its extreme.
	day2High := highs[1]
	assert.Equal(t, "2025-06-12", day2High.LocalDay)
	assert.InDelta(t, 19.0, *day2High.ValueNum, 1e-9)
	assert.Equal(t, 2, *day2High.LeadOffset)

	// The window spans the full local civil day.
	assert.Equal(t, time.Date(2025, 6, 11, 4, 0, 0, 0, time.UTC), *day1High.ValidStart)
	assert.Equal(t, time.Date(2025, 6, 12, 4, 0, 0, 0, time.UTC), *day1High.ValidEnd)
}

func TestMSCGeoMetMissingIssueTime(t *testing.T) {
	body := `{
		"features": [{
			"geometry": {"coordinates": [-79.38, 43.65]},
			"properties": {"periods": [{"start": "2025-06-11T10:00:00Z"}]}
		}]
	}`
	raw := rawPayload(wx.ProviderMSCGeoMet, EndpointForecastDaily, body)
	_, err := Normalize(raw, wx.ProductForecastDaily, testLoc, testAligner(t))

	var mapErr *wx.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "properties.forecastIssueTime", mapErr.Field)
}

func TestAmbientWeatherObservation(t *testing.T) {
	body := `[{
		"macAddress": "AA:BB:CC:00:11:22",
		"info": {"name": "Backyard", "coords": {"coords": {"lat": 43.66, "lon": -79.39}}},
		"lastData": {
			"dateutc": 1749556800000,
			"tempf": 59.0,
			"humidity": 61,
			"baromrelin": 29.92,
			"windspeedmph": 10.0,
			"hourlyrainin": 0.1,
			"uv": 4
		}
	}]`
	raw := rawPayload(wx.ProviderAmbientWeather, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)

	temp := findPoint(t, points, metrics.TemperatureAir)
	assert.InDelta(t, 15.0, *temp.ValueNum, 1e-9)
	assert.Equal(t, "F", temp.UnitRaw)
	assert.Equal(t, "Backyard", temp.Station)
	assert.Equal(t, 43.66, temp.Latitude)
	assert.Equal(t, time.Unix(1749556800, 0).UTC(), *temp.ObservedAt)

	pressure := findPoint(t, points, metrics.PressureSeaLevel)
	assert.InDelta(t, 101.3207, *pressure.ValueNum, 1e-4)

	wind := findPoint(t, points, metrics.WindSpeed)
	assert.InDelta(t, 16.0934, *wind.ValueNum, 1e-4)

	rain := findPoint(t, points, metrics.PrecipAmount)
	assert.InDelta(t, 2.54, *rain.ValueNum, 1e-9)

	uv := findPoint(t, points, metrics.UVIndex)
	assert.InDelta(t, 4.0, *uv.ValueNum, 1e-9)
}

func TestAmbientWeatherDeviceSelection(t *testing.T) {
	// Two stations: the lexically smallest MAC wins regardless of order.
	body := `[
		{"macAddress": "FF:00:00:00:00:01", "info": {"name": "Roof"},
			"lastData": {"dateutc": 1749556800000, "tempf": 70.0}},
		{"macAddress": "AA:00:00:00:00:01", "info": {"name": "Garden"},
			"lastData": {"dateutc": 1749556800000, "tempf": 59.0}}
	]`
	raw := rawPayload(wx.ProviderAmbientWeather, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)

	temp := findPoint(t, points, metrics.TemperatureAir)
	assert.Equal(t, "Garden", temp.Station)
	assert.InDelta(t, 15.0, *temp.ValueNum, 1e-9)
}

func TestAmbientWeatherFallsBackToAbsolutePressure(t *testing.T) {
	body := `[{
		"macAddress": "AA:00:00:00:00:01",
		"lastData": {"dateutc": 1749556800000, "baromabsin": 29.0}
	}]`
	raw := rawPayload(wx.ProviderAmbientWeather, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)

	pressure := findPoint(t, points, metrics.PressureSeaLevel)
	assert.Equal(t, "lastData.baromabsin", pressure.SourceField)
	// Station falls back to the MAC when the device has no name.
	assert.Equal(t, "AA:00:00:00:00:01", pressure.Station)
}

func TestAmbientWeatherMissingTimestamp(t *testing.T) {
	body := `[{"macAddress": "AA:00:00:00:00:01", "lastData": {"tempf": 59.0}}]`
	raw := rawPayload(wx.ProviderAmbientWeather, EndpointObservation, body)
	_, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))

	var mapErr *wx.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "lastData.dateutc", mapErr.Field)
}

func TestAmbientWeatherNonObservationKindsEmpty(t *testing.T) {
	raw := rawPayload(wx.ProviderAmbientWeather, EndpointForecastHourly, `[]`)
	points, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestDataPointsPassValidation(t *testing.T) {
	body := `{
		"coord": {"lat": 43.65, "lon": -79.38},
		"main": {"temp": 288.15, "humidity": 60},
		"dt": 1749556800,
		"name": "Toronto"
	}`
	raw := rawPayload(wx.ProviderOpenWeather, EndpointObservation, body)
	points, err := Normalize(raw, wx.ProductObservation, testLoc, testAligner(t))
	require.NoError(t, err)
	require.NotEmpty(t, points)

	for i := range points {
		assert.NoError(t, points[i].Validate())
	}
}

func TestTransportAuthStatusFatal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := newTransport(wx.ProviderOpenWeather, 5, 2, logger.NewNop())
	_, err := tr.get(context.Background(), EndpointObservation, srv.URL, nil)

	// A rejected credential is fatal for the provider and never retried.
	var authErr *wx.AuthConfigError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, wx.ProviderOpenWeather, authErr.Provider)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransportClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := newTransport(wx.ProviderMSCGeoMet, 5, 2, logger.NewNop())
	_, err := tr.get(context.Background(), EndpointObservation, srv.URL, nil)

	var trErr *wx.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, http.StatusNotFound, trErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransportRetriesServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := newTransport(wx.ProviderOpenWeather, 5, 2, logger.NewNop())
	payload, err := tr.get(context.Background(), EndpointObservation, srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 200, payload.ResponseStatus)
}

const rdpsAirTempBody = `{
	"features": [
		{
			"geometry": {"coordinates": [-79.38, 43.65]},
			"properties": {
				"prognos_station_id": "TORONTO-1",
				"reference_datetime": "2025-06-10T12:00:00Z",
				"forecast_datetime": "2025-06-10T15:00:00Z",
				"forecast_leadtime": "PT003H",
				"forecast_value": 288.15,
				"unit": "K"
			}
		},
		{
			"geometry": {"coordinates": [-75.69, 45.42]},
			"properties": {
				"prognos_station_id": "OTTAWA-1",
				"reference_datetime": "2025-06-10T12:00:00Z",
				"forecast_datetime": "2025-06-10T15:00:00Z",
				"forecast_leadtime": "PT003H",
				"forecast_value": 290.15,
				"unit": "K"
			}
		}
	]
}`

func TestMSCRDPSHourlyForecast(t *testing.T) {
	raw := rawPayload(wx.ProviderMSCRDPS, EndpointPrognosAirTemp, rdpsAirTempBody)
	points, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))
	require.NoError(t, err)
	require.Len(t, points, 1)

	// The nearest station to the configured location wins.
	p := points[0]
	assert.Equal(t, metrics.TemperatureAir, p.MetricType)
	assert.Equal(t, "TORONTO-1", p.Station)
	assert.InDelta(t, 15.0, *p.ValueNum, 1e-9)
	assert.Equal(t, metrics.UnitCelsius, p.Unit)
	assert.Equal(t, "K", p.UnitRaw)
	assert.InDelta(t, 43.65, p.Latitude, 1e-9)
	assert.InDelta(t, -79.38, p.Longitude, 1e-9)

	start := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, start, *p.ValidStart)
	assert.Equal(t, start.Add(time.Hour), *p.ValidEnd)
	require.NotNil(t, p.IssuedAt)
	assert.Equal(t, time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC), *p.IssuedAt)
	assert.Equal(t, 3, *p.LeadOffset)
	assert.Equal(t, wx.LeadHour, p.LeadUnit)
}

func TestMSCRDPSWindDirectionRounded(t *testing.T) {
	body := `{
		"features": [{
			"geometry": {"coordinates": [-79.38, 43.65]},
			"properties": {
				"prognos_station_id": "TORONTO-1",
				"reference_datetime": "2025-06-10T12:00:00Z",
				"forecast_datetime": "2025-06-10T13:00:00Z",
				"forecast_leadtime": "PT001H",
				"forecast_value": 123.6,
				"unit": "deg"
			}
		}]
	}`
	raw := rawPayload(wx.ProviderMSCRDPS, EndpointPrognosWindDir, body)
	points, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))
	require.NoError(t, err)
	require.Len(t, points, 1)

	assert.Equal(t, metrics.WindDirection, points[0].MetricType)
	assert.InDelta(t, 124.0, *points[0].ValueNum, 1e-9)
}

func TestMSCRDPSNoUsableStations(t *testing.T) {
	raw := rawPayload(wx.ProviderMSCRDPS, EndpointPrognosAirTemp, `{"features": []}`)
	_, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))

	var mapErr *wx.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "features", mapErr.Field)
}

func TestMSCRDPSRunTime(t *testing.T) {
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2025, 6, 10, 13, 5, 0, 0, time.UTC), time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)},
		{time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC), time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC), time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)},
		{time.Date(2025, 6, 10, 23, 59, 0, 0, time.UTC), time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, rdpsRunTime(tc.now))
	}
}

func TestMSCRDPSFetchFallsBackToEarlierRun(t *testing.T) {
	// The 12Z cycle is not published yet; the client steps back to 06Z.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/06/") {
			w.Write([]byte(rdpsAirTempBody))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.ProvidersConfig{
		RequestTimeoutSeconds: 5,
		MaxRetries:            1,
		MSCRDPSBaseURL:        srv.URL,
		MSCRDPSMaxLeadHours:   1,
	}
	client := newMSCRDPSClient(cfg, testLoc, logger.NewNop())

	payloads, err := client.Fetch(context.Background(), testRunAt.Add(30*time.Minute))
	require.NoError(t, err)

	// Two lead hours, four variables each, the lead-0 air temperature
	// fetched once while resolving the run.
	require.Len(t, payloads, 8)
	assert.Equal(t, EndpointPrognosAirTemp, payloads[0].Endpoint)
	for _, p := range payloads {
		assert.Contains(t, p.RequestURL, "/06/")
		assert.Equal(t, testRunAt.Add(30*time.Minute), p.RunAt)
	}
}

func TestMSCGeoMetHourlyPeriods(t *testing.T) {
	body := `{
		"features": [{
			"geometry": {"coordinates": [-79.38, 43.65]},
			"properties": {
				"forecastIssueTime": "2025-06-10T11:00:00Z",
				"periods": [
					{"start": "2025-06-11T10:00:00Z", "end": "2025-06-11T22:00:00Z",
						"temperatureHigh": 22.0, "probabilityOfPrecipitation": 30,
						"wind": {"speed": 20.0}, "textSummary": "Chance of showers"},
					{"start": "2025-06-11T22:00:00Z", "end": "2025-06-12T10:00:00Z",
						"temperatureLow": 12.0, "probabilityOfPrecipitation": 60}
				]
			}
		}]
	}`
	raw := rawPayload(wx.ProviderMSCGeoMet, EndpointForecastHourly, body)
	points, err := Normalize(raw, wx.ProductForecastHourly, testLoc, testAligner(t))
	require.NoError(t, err)

	// Each period is kept verbatim with its own validity window; nothing
	// is aggregated and no quality flag is set.
	high := findPoint(t, points, metrics.TemperatureHigh)
	assert.Equal(t, wx.ProductForecastHourly, high.ProductKind)
	assert.Equal(t, time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC), *high.ValidStart)
	assert.Equal(t, time.Date(2025, 6, 11, 22, 0, 0, 0, time.UTC), *high.ValidEnd)
	assert.Equal(t, 22, *high.LeadOffset)
	assert.Empty(t, high.QualityFlag)

	low := findPoint(t, points, metrics.TemperatureLow)
	assert.Equal(t, time.Date(2025, 6, 11, 22, 0, 0, 0, time.UTC), *low.ValidStart)
	assert.Equal(t, 34, *low.LeadOffset)

	pops := findPoints(points, metrics.PrecipProbability)
	require.Len(t, pops, 2)
	assert.InDelta(t, 30.0, *pops[0].ValueNum, 1e-9)
	assert.InDelta(t, 60.0, *pops[1].ValueNum, 1e-9)

	cond := findPoint(t, points, metrics.ConditionText)
	assert.Equal(t, "Chance of showers", *cond.ValueText)
}

func TestDeriveDailyFromHourly(t *testing.T) {
	align := testAligner(t)
	issued := testRunAt

	hourly := func(metric string, start time.Time, value float64) wx.DataPoint {
		offset := align.HourlyLead(start)
		end := start.Add(time.Hour)
		v := value
		return wx.DataPoint{
			RawID: 7, Provider: wx.ProviderMSCRDPS, ProductKind: wx.ProductForecastHourly,
			MetricType: metric, ValueNum: &v, Unit: metrics.UnitCelsius,
			ValidStart: &start, ValidEnd: &end, IssuedAt: &issued, RunAt: testRunAt,
			LeadUnit: wx.LeadHour, LeadOffset: &offset,
			Station: "TORONTO-1", Latitude: 43.65, Longitude: -79.38,
		}
	}

	day1a := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	day1b := time.Date(2025, 6, 11, 16, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 12, 16, 0, 0, 0, time.UTC)

	wind := hourly(metrics.WindSpeed, day1a, 20.0)
	wind.Unit = metrics.UnitKmPerHour
	points := []wx.DataPoint{
		hourly(metrics.TemperatureAir, day1b, 16.0),
		hourly(metrics.TemperatureAir, day1a, 15.0),
		wind,
		hourly(metrics.TemperatureAir, day2, 18.0),
	}

	daily := DeriveDailyFromHourly(points, align)

	temps := findPoints(daily, metrics.TemperatureAir)
	require.Len(t, temps, 2)
	day1Temp := temps[0]
	assert.Equal(t, "2025-06-11", day1Temp.LocalDay)
	assert.InDelta(t, 15.5, *day1Temp.ValueNum, 1e-9)
	assert.Equal(t, wx.ProductForecastDaily, day1Temp.ProductKind)
	assert.Equal(t, "derived_daily_from_hourly", day1Temp.QualityFlag)
	assert.Equal(t, 1, *day1Temp.LeadOffset)
	assert.Equal(t, 0, *day1Temp.LeadDayIndex)
	assert.Equal(t, int64(7), day1Temp.RawID)
	require.NotNil(t, day1Temp.IssuedAt)

	high := findPoints(daily, metrics.TemperatureHigh)[0]
	assert.InDelta(t, 16.0, *high.ValueNum, 1e-9)
	low := findPoints(daily, metrics.TemperatureLow)[0]
	assert.InDelta(t, 15.0, *low.ValueNum, 1e-9)
	windDaily := findPoints(daily, metrics.WindSpeed)[0]
	assert.InDelta(t, 20.0, *windDaily.ValueNum, 1e-9)
	assert.Equal(t, metrics.UnitKmPerHour, windDaily.Unit)

	// The window covers the full local civil day.
	assert.Equal(t, time.Date(2025, 6, 11, 4, 0, 0, 0, time.UTC), *day1Temp.ValidStart)
	assert.Equal(t, time.Date(2025, 6, 12, 4, 0, 0, 0, time.UTC), *day1Temp.ValidEnd)

	day2Temp := temps[1]
	assert.Equal(t, "2025-06-12", day2Temp.LocalDay)
	assert.Equal(t, 2, *day2Temp.LeadOffset)
	assert.Equal(t, 1, *day2Temp.LeadDayIndex)

	for i := range daily {
		assert.NoError(t, daily[i].Validate())
	}
}
