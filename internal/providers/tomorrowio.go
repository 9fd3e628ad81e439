package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/metrics"
	"github.com/yegors/wxbench/internal/timealign"
	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

const (
	tomorrowIODefaultBaseURL = "https://api.tomorrow.io/v4/weather"
	tomorrowIOKeyEnv         = "WXBENCH_TOMORROW_IO_API_KEY"
)

// tomorrowIOClient fetches the realtime endpoint plus the hourly and daily
// forecast timelines.
type tomorrowIOClient struct {
	cfg     config.ProvidersConfig
	loc     wx.Location
	baseURL string
	tr      *transport
}

func newTomorrowIOClient(cfg config.ProvidersConfig, loc wx.Location, log *logger.Logger) *tomorrowIOClient {
	baseURL := cfg.TomorrowIOBaseURL
	if baseURL == "" {
		baseURL = tomorrowIODefaultBaseURL
	}
	return &tomorrowIOClient{
		cfg:     cfg,
		loc:     loc,
		baseURL: baseURL,
		tr:      newTransport(wx.ProviderTomorrowIO, cfg.RequestTimeoutSeconds, cfg.MaxRetries, log),
	}
}

func (c *tomorrowIOClient) Provider() wx.Provider { return wx.ProviderTomorrowIO }

func (c *tomorrowIOClient) Fetch(ctx context.Context, runAt time.Time) ([]wx.RawPayload, error) {
	apiKey := c.cfg.Key(tomorrowIOKeyEnv)
	if apiKey == "" {
		return nil, &wx.AuthConfigError{Provider: wx.ProviderTomorrowIO,
			Detail: fmt.Sprintf("missing API key (%s)", tomorrowIOKeyEnv)}
	}

	location := fmt.Sprintf("%f,%f", c.loc.Latitude, c.loc.Longitude)
	requests := []struct {
		endpoint string
		url      string
	}{
		{EndpointObservation, fmt.Sprintf("%s/realtime?location=%s&units=metric&apikey=%s",
			c.baseURL, location, apiKey)},
		{EndpointForecastHourly, fmt.Sprintf("%s/forecast?location=%s&timesteps=1h&units=metric&apikey=%s",
			c.baseURL, location, apiKey)},
		{EndpointForecastDaily, fmt.Sprintf("%s/forecast?location=%s&timesteps=1d&units=metric&apikey=%s",
			c.baseURL, location, apiKey)},
	}

	payloads := make([]wx.RawPayload, 0, len(requests))
	for _, r := range requests {
		payload, err := c.tr.get(ctx, r.endpoint, r.url, []string{"apikey"})
		if err != nil {
			return payloads, err
		}
		payload.RunAt = runAt
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// Tomorrow.io wire formats. With units=metric the API reports Celsius
// temperatures, m/s wind, hPa sea-level pressure, km visibility, and
// percentage probabilities.
type tioValues struct {
	Temperature         *float64 `json:"temperature"`
	TemperatureApparent *float64 `json:"temperatureApparent"`
	TemperatureMin      *float64 `json:"temperatureMin"`
	TemperatureMax      *float64 `json:"temperatureMax"`
	DewPoint            *float64 `json:"dewPoint"`
	Humidity            *float64 `json:"humidity"`
	PressureSeaLevel    *float64 `json:"pressureSeaLevel"`
	WindSpeed           *float64 `json:"windSpeed"`
	WindGust            *float64 `json:"windGust"`
	WindDirection       *float64 `json:"windDirection"`
	Visibility          *float64 `json:"visibility"`
	CloudCover          *float64 `json:"cloudCover"`
	UVIndex             *float64 `json:"uvIndex"`
	PrecipProbability   *float64 `json:"precipitationProbability"`
	RainIntensity       *float64 `json:"rainIntensity"`
	SnowIntensity       *float64 `json:"snowIntensity"`
	SleetIntensity      *float64 `json:"sleetIntensity"`
	FreezingRain        *float64 `json:"freezingRainIntensity"`
	RainAccumulation    *float64 `json:"rainAccumulation"`
}

type tioLocation struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type tioRealtimePayload struct {
	Data struct {
		Time   string    `json:"time"`
		Values tioValues `json:"values"`
	} `json:"data"`
	Location tioLocation `json:"location"`
}

type tioForecastPayload struct {
	Timelines struct {
		Hourly []tioTimelineEntry `json:"hourly"`
		Daily  []tioTimelineEntry `json:"daily"`
	} `json:"timelines"`
	Location tioLocation `json:"location"`
}

type tioTimelineEntry struct {
	Time   string    `json:"time"`
	Values tioValues `json:"values"`
}

func normalizeTomorrowIO(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	switch kind {
	case wx.ProductObservation:
		return normalizeTomorrowIOObservation(raw, loc, align)
	case wx.ProductForecastHourly, wx.ProductForecastDaily:
		return normalizeTomorrowIOForecast(raw, kind, loc, align)
	}
	return nil, nil
}

func normalizeTomorrowIOObservation(raw *wx.RawPayload, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	var payload tioRealtimePayload
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if payload.Location.Lat == nil || payload.Location.Lon == nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "location", Detail: "missing coordinates"}
	}
	if payload.Data.Time == "" {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "data.time", Detail: "missing observation time"}
	}
	observedAt, err := parseISO(payload.Data.Time)
	if err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "data.time", Detail: err.Error()}
	}

	b := newBatch(raw, wx.ProductObservation, loc, align)
	b.setCoords(*payload.Location.Lat, *payload.Location.Lon)
	v := payload.Data.Values
	b.observed(metrics.TemperatureAir, v.Temperature, "C", observedAt, "data.values.temperature")
	b.observed(metrics.TemperatureApparent, v.TemperatureApparent, "C", observedAt, "data.values.temperatureApparent")
	b.observed(metrics.TemperatureDewpoint, v.DewPoint, "C", observedAt, "data.values.dewPoint")
	b.observed(metrics.HumidityRelative, v.Humidity, "%", observedAt, "data.values.humidity")
	b.observed(metrics.PressureSeaLevel, v.PressureSeaLevel, "hPa", observedAt, "data.values.pressureSeaLevel")
	b.observed(metrics.WindSpeed, v.WindSpeed, "m/s", observedAt, "data.values.windSpeed")
	b.observed(metrics.WindGust, v.WindGust, "m/s", observedAt, "data.values.windGust")
	b.observed(metrics.WindDirection, v.WindDirection, "deg", observedAt, "data.values.windDirection")
	b.observed(metrics.Visibility, v.Visibility, "km", observedAt, "data.values.visibility")
	b.observed(metrics.CloudCover, v.CloudCover, "%", observedAt, "data.values.cloudCover")
	b.observed(metrics.UVIndex, v.UVIndex, metrics.UnitDimensionless, observedAt, "data.values.uvIndex")
	b.observed(metrics.PrecipAmount, precipIntensitySum(v), "mm", observedAt, "data.values.rainIntensity")
	return b.finish()
}

func normalizeTomorrowIOForecast(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	var payload tioForecastPayload
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if payload.Location.Lat == nil || payload.Location.Lon == nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "location", Detail: "missing coordinates"}
	}

	b := newBatch(raw, kind, loc, align)
	b.setCoords(*payload.Location.Lat, *payload.Location.Lon)

	if kind == wx.ProductForecastHourly {
		if len(payload.Timelines.Hourly) == 0 {
			return nil, &wx.MappingError{Provider: raw.Provider, Field: "timelines.hourly", Detail: "missing hourly timeline"}
		}
		for i, entry := range payload.Timelines.Hourly {
			if err := tomorrowIOEntry(b, entry, i, "timelines.hourly", time.Hour, nil); err != nil {
				return nil, err
			}
		}
		return b.finish()
	}

	if len(payload.Timelines.Daily) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "timelines.daily", Detail: "missing daily timeline"}
	}
	for i, entry := range payload.Timelines.Daily {
		dayIndex := i
		if err := tomorrowIOEntry(b, entry, i, "timelines.daily", 24*time.Hour, &dayIndex); err != nil {
			return nil, err
		}
	}
	return b.finish()
}

func tomorrowIOEntry(b *batch, entry tioTimelineEntry, i int, field string, span time.Duration, dayIndex *int) error {
	if entry.Time == "" {
		return &wx.MappingError{Provider: b.raw.Provider,
			Field: fmt.Sprintf("%s.%d.time", field, i), Detail: "missing forecast start time"}
	}
	start, err := parseISO(entry.Time)
	if err != nil {
		return &wx.MappingError{Provider: b.raw.Provider,
			Field: fmt.Sprintf("%s.%d.time", field, i), Detail: err.Error()}
	}
	b.setWindow(start, start.Add(span), nil, dayIndex)

	prefix := fmt.Sprintf("%s.%d.values.", field, i)
	v := entry.Values
	b.forecast(metrics.TemperatureAir, v.Temperature, "C", prefix+"temperature")
	b.forecast(metrics.TemperatureApparent, v.TemperatureApparent, "C", prefix+"temperatureApparent")
	b.forecast(metrics.TemperatureLow, v.TemperatureMin, "C", prefix+"temperatureMin")
	b.forecast(metrics.TemperatureHigh, v.TemperatureMax, "C", prefix+"temperatureMax")
	b.forecast(metrics.TemperatureDewpoint, v.DewPoint, "C", prefix+"dewPoint")
	b.forecast(metrics.HumidityRelative, v.Humidity, "%", prefix+"humidity")
	b.forecast(metrics.PressureSeaLevel, v.PressureSeaLevel, "hPa", prefix+"pressureSeaLevel")
	b.forecast(metrics.WindSpeed, v.WindSpeed, "m/s", prefix+"windSpeed")
	b.forecast(metrics.WindGust, v.WindGust, "m/s", prefix+"windGust")
	b.forecast(metrics.WindDirection, v.WindDirection, "deg", prefix+"windDirection")
	b.forecast(metrics.Visibility, v.Visibility, "km", prefix+"visibility")
	b.forecast(metrics.CloudCover, v.CloudCover, "%", prefix+"cloudCover")
	b.forecast(metrics.UVIndex, v.UVIndex, metrics.UnitDimensionless, prefix+"uvIndex")
	b.forecast(metrics.PrecipProbability, v.PrecipProbability, "%", prefix+"precipitationProbability")
	if v.RainAccumulation != nil {
		b.forecast(metrics.PrecipAmount, v.RainAccumulation, "mm", prefix+"rainAccumulation")
	} else {
		b.forecast(metrics.PrecipAmount, precipIntensitySum(v), "mm", prefix+"rainIntensity")
	}
	return nil
}

// precipIntensitySum adds every phase-specific intensity into one liquid
// total, nil when no phase is reported.
func precipIntensitySum(v tioValues) *float64 {
	var total float64
	present := false
	for _, part := range []*float64{v.RainIntensity, v.SnowIntensity, v.SleetIntensity, v.FreezingRain} {
		if part != nil {
			total += *part
			present = true
		}
	}
	if !present {
		return nil
	}
	return &total
}
