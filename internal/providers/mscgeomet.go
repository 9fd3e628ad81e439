package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/metrics"
	"github.com/yegors/wxbench/internal/timealign"
	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

const mscGeoMetDefaultBaseURL = "https://api.weather.gc.ca/collections/citypageweather-realtime/items"

// qualityDerivedDaily marks daily points synthesized from period forecasts
// rather than reported by the provider.
const qualityDerivedDaily = "derived_daily_from_periods"

// mscGeoMetClient fetches Environment Canada's citypageweather collection.
// The API is open data and needs no credentials. It reports station
// observations and day/night period forecasts; daily data points are
// derived from the periods during normalization.
type mscGeoMetClient struct {
	cfg     config.ProvidersConfig
	loc     wx.Location
	baseURL string
	tr      *transport
}

func newMSCGeoMetClient(cfg config.ProvidersConfig, loc wx.Location, log *logger.Logger) *mscGeoMetClient {
	baseURL := cfg.MSCGeoMetBaseURL
	if baseURL == "" {
		baseURL = mscGeoMetDefaultBaseURL
	}
	return &mscGeoMetClient{
		cfg:     cfg,
		loc:     loc,
		baseURL: baseURL,
		tr:      newTransport(wx.ProviderMSCGeoMet, cfg.RequestTimeoutSeconds, cfg.MaxRetries, log),
	}
}

func (c *mscGeoMetClient) Provider() wx.Provider { return wx.ProviderMSCGeoMet }

func (c *mscGeoMetClient) Fetch(ctx context.Context, runAt time.Time) ([]wx.RawPayload, error) {
	bbox := fmt.Sprintf("%f,%f,%f,%f",
		c.loc.Longitude-0.5, c.loc.Latitude-0.5, c.loc.Longitude+0.5, c.loc.Latitude+0.5)

	requests := []struct {
		endpoint string
		url      string
	}{
		{EndpointObservation, fmt.Sprintf("%s?f=json&bbox=%s&limit=1", c.baseURL, bbox)},
		{EndpointForecastHourly, fmt.Sprintf("%s?f=json&bbox=%s&limit=1", c.baseURL, bbox)},
		{EndpointForecastDaily, fmt.Sprintf("%s?f=json&bbox=%s&limit=1", c.baseURL, bbox)},
	}

	payloads := make([]wx.RawPayload, 0, len(requests))
	for _, r := range requests {
		payload, err := c.tr.get(ctx, r.endpoint, r.url, nil)
		if err != nil {
			return payloads, err
		}
		payload.RunAt = runAt
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// MSC GeoMet wire format: a GeoJSON feature collection, one feature per
// city page. Units are already metric (Celsius, km/h, kPa, km, mm).
type mscFeatureCollection struct {
	Features []mscFeature `json:"features"`
}

type mscFeature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties mscProperties `json:"properties"`
}

type mscProperties struct {
	StationIdentifier string `json:"stationIdentifier"`
	ObservationTime   string `json:"observationTime"`
	ForecastIssueTime string `json:"forecastIssueTime"`

	AirTemperature      *float64 `json:"airTemperature"`
	DewpointTemperature *float64 `json:"dewpointTemperature"`
	SeaLevelPressure    *float64 `json:"seaLevelPressure"`
	RelativeHumidity    *float64 `json:"relativeHumidity"`
	Visibility          *float64 `json:"visibility"`
	PrecipLastHour      *float64 `json:"precipitationLastHour"`
	Wind                mscWind  `json:"wind"`
	PresentWeather      mscText  `json:"presentWeather"`

	Periods []mscPeriod `json:"periods"`
}

type mscWind struct {
	Speed     *float64 `json:"speed"`
	Direction *float64 `json:"direction"`
}

// mscText tolerates the two shapes present-weather conditions arrive in: a
// plain string, or a list of coded objects with a textual value.
type mscText string

func (t *mscText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = mscText(s)
		return nil
	}
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err == nil && len(items) > 0 {
		for _, key := range []string{"value", "text", "description"} {
			if v, ok := items[0][key].(string); ok && v != "" {
				*t = mscText(v)
				return nil
			}
		}
	}
	*t = ""
	return nil
}

type mscPeriod struct {
	Start           string   `json:"start"`
	End             string   `json:"end"`
	Temperature     *float64 `json:"temperature"`
	TemperatureHigh *float64 `json:"temperatureHigh"`
	TemperatureLow  *float64 `json:"temperatureLow"`
	PrecipProb      *float64 `json:"probabilityOfPrecipitation"`
	PrecipTotal     *float64 `json:"totalPrecipitation"`
	Wind            mscWind  `json:"wind"`
	TextSummary     string   `json:"textSummary"`
}

func normalizeMSCGeoMet(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	var payload mscFeatureCollection
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if len(payload.Features) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "features", Detail: "empty feature collection"}
	}
	feature := payload.Features[0]
	if len(feature.Geometry.Coordinates) < 2 {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "geometry.coordinates", Detail: "missing coordinates"}
	}
	lon, lat := feature.Geometry.Coordinates[0], feature.Geometry.Coordinates[1]

	switch kind {
	case wx.ProductObservation:
		return normalizeMSCGeoMetObservation(raw, feature.Properties, lat, lon, loc, align)
	case wx.ProductForecastHourly:
		return normalizeMSCGeoMetHourly(raw, feature.Properties, lat, lon, loc, align)
	case wx.ProductForecastDaily:
		return normalizeMSCGeoMetDaily(raw, feature.Properties, lat, lon, loc, align)
	}
	return nil, nil
}

func normalizeMSCGeoMetObservation(raw *wx.RawPayload, props mscProperties, lat, lon float64, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	if props.ObservationTime == "" {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "properties.observationTime", Detail: "missing observation time"}
	}
	observedAt, err := parseISO(props.ObservationTime)
	if err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "properties.observationTime", Detail: err.Error()}
	}

	b := newBatch(raw, wx.ProductObservation, loc, align)
	b.setCoords(lat, lon)
	b.setStation(props.StationIdentifier)
	b.observed(metrics.TemperatureAir, props.AirTemperature, "C", observedAt, "properties.airTemperature")
	b.observed(metrics.TemperatureDewpoint, props.DewpointTemperature, "C", observedAt, "properties.dewpointTemperature")
	b.observed(metrics.PressureSeaLevel, props.SeaLevelPressure, "kPa", observedAt, "properties.seaLevelPressure")
	b.observed(metrics.HumidityRelative, props.RelativeHumidity, "%", observedAt, "properties.relativeHumidity")
	b.observed(metrics.Visibility, props.Visibility, "km", observedAt, "properties.visibility")
	b.observed(metrics.WindSpeed, props.Wind.Speed, "km/h", observedAt, "properties.wind.speed")
	b.observed(metrics.WindDirection, props.Wind.Direction, "deg", observedAt, "properties.wind.direction")
	b.observed(metrics.PrecipAmount, props.PrecipLastHour, "mm", observedAt, "properties.precipitationLastHour")
	b.observedText(metrics.ConditionText, string(props.PresentWeather), observedAt, "properties.presentWeather")
	return b.finish()
}

// normalizeMSCGeoMetHourly stores each day/night period verbatim as an
// hourly-product point spanning the period's own validity window; the
// daily synthesis happens separately in normalizeMSCGeoMetDaily.
func normalizeMSCGeoMetHourly(raw *wx.RawPayload, props mscProperties, lat, lon float64, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	if props.ForecastIssueTime == "" {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "properties.forecastIssueTime", Detail: "missing forecast issue time"}
	}
	issuedAt, err := parseISO(props.ForecastIssueTime)
	if err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "properties.forecastIssueTime", Detail: err.Error()}
	}
	if len(props.Periods) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "properties.periods", Detail: "missing forecast periods"}
	}

	b := newBatch(raw, wx.ProductForecastHourly, loc, align)
	b.setCoords(lat, lon)
	for i, period := range props.Periods {
		source := fmt.Sprintf("properties.periods.%d", i)
		if period.Start == "" {
			return nil, &wx.MappingError{Provider: raw.Provider, Field: source + ".start", Detail: "missing period start time"}
		}
		start, err := parseISO(period.Start)
		if err != nil {
			return nil, &wx.MappingError{Provider: raw.Provider, Field: source + ".start", Detail: err.Error()}
		}
		end := start
		if period.End != "" {
			if end, err = parseISO(period.End); err != nil {
				return nil, &wx.MappingError{Provider: raw.Provider, Field: source + ".end", Detail: err.Error()}
			}
		}

		b.setWindow(start, end, &issuedAt, nil)
		b.forecast(metrics.TemperatureAir, period.Temperature, "C", source+".temperature")
		b.forecast(metrics.TemperatureHigh, period.TemperatureHigh, "C", source+".temperatureHigh")
		b.forecast(metrics.TemperatureLow, period.TemperatureLow, "C", source+".temperatureLow")
		b.forecast(metrics.PrecipProbability, period.PrecipProb, "%", source+".probabilityOfPrecipitation")
		b.forecast(metrics.PrecipAmount, period.PrecipTotal, "mm", source+".totalPrecipitation")
		b.forecast(metrics.WindSpeed, period.Wind.Speed, "km/h", source+".wind.speed")
		b.forecast(metrics.WindDirection, period.Wind.Direction, "deg", source+".wind.direction")
		b.forecastText(metrics.ConditionText, period.TextSummary, source+".textSummary")
	}
	return b.finish()
}

// parsedPeriod is one day/night forecast period with resolved times.
type parsedPeriod struct {
	start  time.Time
	period mscPeriod
	source string
}

func normalizeMSCGeoMetDaily(raw *wx.RawPayload, props mscProperties, lat, lon float64, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	if props.ForecastIssueTime == "" {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "properties.forecastIssueTime", Detail: "missing forecast issue time"}
	}
	issuedAt, err := parseISO(props.ForecastIssueTime)
	if err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "properties.forecastIssueTime", Detail: err.Error()}
	}
	if len(props.Periods) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "properties.periods", Detail: "missing forecast periods"}
	}

	// Group periods by local civil day, then synthesize one daily entry per
	// day: extremes for temperature, the worst-case precipitation
	// probability, and the summed precipitation amount.
	byDay := make(map[string][]parsedPeriod)
	for i, period := range props.Periods {
		if period.Start == "" {
			return nil, &wx.MappingError{Provider: raw.Provider,
				Field: fmt.Sprintf("properties.periods.%d.start", i), Detail: "missing period start time"}
		}
		start, err := parseISO(period.Start)
		if err != nil {
			return nil, &wx.MappingError{Provider: raw.Provider,
				Field: fmt.Sprintf("properties.periods.%d.start", i), Detail: err.Error()}
		}
		day := align.LocalDay(start)
		byDay[day] = append(byDay[day], parsedPeriod{
			start:  start,
			period: period,
			source: fmt.Sprintf("properties.periods.%d", i),
		})
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	b := newBatch(raw, wx.ProductForecastDaily, loc, align)
	b.setCoords(lat, lon)
	b.setQualityFlag(qualityDerivedDaily)
	for dayIndex, day := range days {
		entries := byDay[day]
		sort.Slice(entries, func(i, j int) bool { return entries[i].start.Before(entries[j].start) })

		start, end := align.DayWindow(entries[0].start)
		idx := dayIndex
		b.setWindow(start, end, &issuedAt, &idx)

		source := entries[0].source
		b.forecast(metrics.TemperatureHigh, periodsMax(entries, periodHigh), "C", source+".temperatureHigh")
		b.forecast(metrics.TemperatureLow, periodsMin(entries, periodLow), "C", source+".temperatureLow")
		b.forecast(metrics.PrecipProbability, periodsMax(entries, periodPrecipProb), "%", source+".probabilityOfPrecipitation")
		b.forecast(metrics.PrecipAmount, periodsSum(entries, periodPrecipTotal), "mm", source+".totalPrecipitation")
		b.forecast(metrics.WindSpeed, periodsMax(entries, periodWindSpeed), "km/h", source+".wind.speed")
		b.forecastText(metrics.ConditionText, entries[0].period.TextSummary, source+".textSummary")
	}
	return b.finish()
}

func periodHigh(p mscPeriod) *float64 {
	if p.TemperatureHigh != nil {
		return p.TemperatureHigh
	}
	return p.Temperature
}

func periodLow(p mscPeriod) *float64 {
	if p.TemperatureLow != nil {
		return p.TemperatureLow
	}
	return p.Temperature
}

func periodPrecipProb(p mscPeriod) *float64  { return p.PrecipProb }
func periodPrecipTotal(p mscPeriod) *float64 { return p.PrecipTotal }
func periodWindSpeed(p mscPeriod) *float64   { return p.Wind.Speed }

func periodsMax(entries []parsedPeriod, get func(mscPeriod) *float64) *float64 {
	var max *float64
	for _, e := range entries {
		if v := get(e.period); v != nil && (max == nil || *v > *max) {
			max = floatPtr(*v)
		}
	}
	return max
}

func periodsMin(entries []parsedPeriod, get func(mscPeriod) *float64) *float64 {
	var min *float64
	for _, e := range entries {
		if v := get(e.period); v != nil && (min == nil || *v < *min) {
			min = floatPtr(*v)
		}
	}
	return min
}

func periodsSum(entries []parsedPeriod, get func(mscPeriod) *float64) *float64 {
	var total *float64
	for _, e := range entries {
		if v := get(e.period); v != nil {
			if total == nil {
				total = floatPtr(0)
			}
			*total += *v
		}
	}
	return total
}
