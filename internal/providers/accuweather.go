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
	accuWeatherDefaultBaseURL = "https://dataservice.accuweather.com"
	accuWeatherKeyEnv         = "WXBENCH_ACCUWEATHER_API_KEY"
)

// accuWeatherClient resolves the location key for the configured
// coordinates, then fetches current conditions plus the 12-hour and 5-day
// forecasts. The location-search response is recorded as an auxiliary
// payload for traceability but contributes no data points.
type accuWeatherClient struct {
	cfg     config.ProvidersConfig
	loc     wx.Location
	baseURL string
	tr      *transport
}

func newAccuWeatherClient(cfg config.ProvidersConfig, loc wx.Location, log *logger.Logger) *accuWeatherClient {
	baseURL := cfg.AccuWeatherBaseURL
	if baseURL == "" {
		baseURL = accuWeatherDefaultBaseURL
	}
	return &accuWeatherClient{
		cfg:     cfg,
		loc:     loc,
		baseURL: baseURL,
		tr:      newTransport(wx.ProviderAccuWeather, cfg.RequestTimeoutSeconds, cfg.MaxRetries, log),
	}
}

func (c *accuWeatherClient) Provider() wx.Provider { return wx.ProviderAccuWeather }

func (c *accuWeatherClient) Fetch(ctx context.Context, runAt time.Time) ([]wx.RawPayload, error) {
	apiKey := c.cfg.Key(accuWeatherKeyEnv)
	if apiKey == "" {
		return nil, &wx.AuthConfigError{Provider: wx.ProviderAccuWeather,
			Detail: fmt.Sprintf("missing API key (%s)", accuWeatherKeyEnv)}
	}

	searchURL := fmt.Sprintf("%s/locations/v1/cities/geoposition/search?q=%f,%f&apikey=%s",
		c.baseURL, c.loc.Latitude, c.loc.Longitude, apiKey)
	searchPayload, err := c.tr.get(ctx, EndpointLocationSearch, searchURL, []string{"apikey"})
	if err != nil {
		return nil, err
	}
	searchPayload.RunAt = runAt

	locationKey, err := accuWeatherLocationKey(searchPayload.Body)
	if err != nil {
		return []wx.RawPayload{searchPayload}, err
	}

	requests := []struct {
		endpoint string
		url      string
	}{
		{EndpointObservation, fmt.Sprintf("%s/currentconditions/v1/%s?details=true&apikey=%s",
			c.baseURL, locationKey, apiKey)},
		{EndpointForecastHourly, fmt.Sprintf("%s/forecasts/v1/hourly/12hour/%s?details=true&metric=true&apikey=%s",
			c.baseURL, locationKey, apiKey)},
		{EndpointForecastDaily, fmt.Sprintf("%s/forecasts/v1/daily/5day/%s?details=true&metric=true&apikey=%s",
			c.baseURL, locationKey, apiKey)},
	}

	payloads := []wx.RawPayload{searchPayload}
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

func accuWeatherLocationKey(body []byte) (string, error) {
	var search struct {
		Key string `json:"Key"`
	}
	if err := json.Unmarshal(body, &search); err != nil {
		return "", &wx.MappingError{Provider: wx.ProviderAccuWeather, Detail: fmt.Sprintf("decoding location search: %v", err)}
	}
	if search.Key == "" {
		return "", &wx.MappingError{Provider: wx.ProviderAccuWeather, Field: "Key", Detail: "missing location key"}
	}
	return search.Key, nil
}

// AccuWeather value blocks come in two shapes: current conditions nest the
// metric reading under "Metric", forecasts (with metric=true) report a flat
// Value/Unit pair.
type awBlock struct {
	Metric *awValue `json:"Metric"`
	Value  *float64 `json:"Value"`
	Unit   string   `json:"Unit"`
}

type awValue struct {
	Value *float64 `json:"Value"`
	Unit  string   `json:"Unit"`
}

func (b awBlock) reading() (*float64, string) {
	if b.Metric != nil {
		return b.Metric.Value, b.Metric.Unit
	}
	return b.Value, b.Unit
}

type awWind struct {
	Speed     awBlock `json:"Speed"`
	Direction struct {
		Degrees *float64 `json:"Degrees"`
	} `json:"Direction"`
}

type awCurrentConditions struct {
	EpochTime        *int64   `json:"EpochTime"`
	WeatherText      string   `json:"WeatherText"`
	Temperature      awBlock  `json:"Temperature"`
	RealFeel         awBlock  `json:"RealFeelTemperature"`
	DewPoint         awBlock  `json:"DewPoint"`
	RelativeHumidity *float64 `json:"RelativeHumidity"`
	Pressure         awBlock  `json:"Pressure"`
	Visibility       awBlock  `json:"Visibility"`
	CloudCover       *float64 `json:"CloudCover"`
	UVIndex          *float64 `json:"UVIndexFloat"`
	Wind             awWind   `json:"Wind"`
	WindGust         awWind   `json:"WindGust"`
	Precipitation    struct {
		PastHour awBlock `json:"PastHour"`
	} `json:"PrecipitationSummary"`
}

type awHourlyEntry struct {
	EpochDateTime     *int64   `json:"EpochDateTime"`
	IconPhrase        string   `json:"IconPhrase"`
	Temperature       awBlock  `json:"Temperature"`
	RealFeel          awBlock  `json:"RealFeelTemperature"`
	DewPoint          awBlock  `json:"DewPoint"`
	RelativeHumidity  *float64 `json:"RelativeHumidity"`
	Visibility        awBlock  `json:"Visibility"`
	CloudCover        *float64 `json:"CloudCover"`
	UVIndex           *float64 `json:"UVIndexFloat"`
	Wind              awWind   `json:"Wind"`
	WindGust          awWind   `json:"WindGust"`
	PrecipProbability *float64 `json:"PrecipitationProbability"`
	TotalLiquid       awBlock  `json:"TotalLiquid"`
}

type awDailyPayload struct {
	DailyForecasts []awDailyEntry `json:"DailyForecasts"`
}

type awDailyEntry struct {
	EpochDate   *int64 `json:"EpochDate"`
	Temperature struct {
		Minimum awBlock `json:"Minimum"`
		Maximum awBlock `json:"Maximum"`
	} `json:"Temperature"`
	Day struct {
		IconPhrase        string   `json:"IconPhrase"`
		PrecipProbability *float64 `json:"PrecipitationProbability"`
		TotalLiquid       awBlock  `json:"TotalLiquid"`
		Wind              awWind   `json:"Wind"`
		WindGust          awWind   `json:"WindGust"`
		CloudCover        *float64 `json:"CloudCover"`
	} `json:"Day"`
}

func normalizeAccuWeather(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	switch kind {
	case wx.ProductObservation:
		return normalizeAccuWeatherObservation(raw, loc, align)
	case wx.ProductForecastHourly:
		return normalizeAccuWeatherHourly(raw, loc, align)
	case wx.ProductForecastDaily:
		return normalizeAccuWeatherDaily(raw, loc, align)
	}
	return nil, nil
}

func normalizeAccuWeatherObservation(raw *wx.RawPayload, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	var conditions []awCurrentConditions
	if err := json.Unmarshal(raw.Body, &conditions); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if len(conditions) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: "empty current conditions payload"}
	}
	current := conditions[0]
	if current.EpochTime == nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "EpochTime", Detail: "missing observation time"}
	}
	observedAt := epochSeconds(*current.EpochTime)

	b := newBatch(raw, wx.ProductObservation, loc, align)
	observedBlock := func(metric string, block awBlock, sourceField string) {
		v, unit := block.reading()
		b.observed(metric, v, unit, observedAt, sourceField)
	}
	observedBlock(metrics.TemperatureAir, current.Temperature, "Temperature")
	observedBlock(metrics.TemperatureApparent, current.RealFeel, "RealFeelTemperature")
	observedBlock(metrics.TemperatureDewpoint, current.DewPoint, "DewPoint")
	b.observed(metrics.HumidityRelative, current.RelativeHumidity, "%", observedAt, "RelativeHumidity")
	observedBlock(metrics.PressureSeaLevel, current.Pressure, "Pressure")
	observedBlock(metrics.Visibility, current.Visibility, "Visibility")
	b.observed(metrics.CloudCover, current.CloudCover, "%", observedAt, "CloudCover")
	b.observed(metrics.UVIndex, current.UVIndex, metrics.UnitDimensionless, observedAt, "UVIndexFloat")
	observedBlock(metrics.WindSpeed, current.Wind.Speed, "Wind.Speed")
	b.observed(metrics.WindDirection, current.Wind.Direction.Degrees, "deg", observedAt, "Wind.Direction.Degrees")
	observedBlock(metrics.WindGust, current.WindGust.Speed, "WindGust.Speed")
	observedBlock(metrics.PrecipAmount, current.Precipitation.PastHour, "PrecipitationSummary.PastHour")
	b.observedText(metrics.ConditionText, current.WeatherText, observedAt, "WeatherText")
	return b.finish()
}

func normalizeAccuWeatherHourly(raw *wx.RawPayload, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	var entries []awHourlyEntry
	if err := json.Unmarshal(raw.Body, &entries); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if len(entries) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: "empty hourly forecast payload"}
	}

	b := newBatch(raw, wx.ProductForecastHourly, loc, align)
	for i, entry := range entries {
		if entry.EpochDateTime == nil {
			return nil, &wx.MappingError{Provider: raw.Provider,
				Field: fmt.Sprintf("%d.EpochDateTime", i), Detail: "missing forecast start time"}
		}
		start := epochSeconds(*entry.EpochDateTime)
		b.setWindow(start, start.Add(time.Hour), nil, nil)

		prefix := fmt.Sprintf("%d.", i)
		forecastBlock := func(metric string, block awBlock, sourceField string) {
			v, unit := block.reading()
			b.forecast(metric, v, unit, prefix+sourceField)
		}
		forecastBlock(metrics.TemperatureAir, entry.Temperature, "Temperature")
		forecastBlock(metrics.TemperatureApparent, entry.RealFeel, "RealFeelTemperature")
		forecastBlock(metrics.TemperatureDewpoint, entry.DewPoint, "DewPoint")
		b.forecast(metrics.HumidityRelative, entry.RelativeHumidity, "%", prefix+"RelativeHumidity")
		forecastBlock(metrics.Visibility, entry.Visibility, "Visibility")
		b.forecast(metrics.CloudCover, entry.CloudCover, "%", prefix+"CloudCover")
		b.forecast(metrics.UVIndex, entry.UVIndex, metrics.UnitDimensionless, prefix+"UVIndexFloat")
		forecastBlock(metrics.WindSpeed, entry.Wind.Speed, "Wind.Speed")
		b.forecast(metrics.WindDirection, entry.Wind.Direction.Degrees, "deg", prefix+"Wind.Direction.Degrees")
		forecastBlock(metrics.WindGust, entry.WindGust.Speed, "WindGust.Speed")
		b.forecast(metrics.PrecipProbability, entry.PrecipProbability, "%", prefix+"PrecipitationProbability")
		forecastBlock(metrics.PrecipAmount, entry.TotalLiquid, "TotalLiquid")
		b.forecastText(metrics.ConditionText, entry.IconPhrase, prefix+"IconPhrase")
	}
	return b.finish()
}

func normalizeAccuWeatherDaily(raw *wx.RawPayload, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	var payload awDailyPayload
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if len(payload.DailyForecasts) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "DailyForecasts", Detail: "missing daily forecast entries"}
	}

	b := newBatch(raw, wx.ProductForecastDaily, loc, align)
	for i, entry := range payload.DailyForecasts {
		if entry.EpochDate == nil {
			return nil, &wx.MappingError{Provider: raw.Provider,
				Field: fmt.Sprintf("DailyForecasts.%d.EpochDate", i), Detail: "missing forecast start time"}
		}
		start := epochSeconds(*entry.EpochDate)
		dayIndex := i
		b.setWindow(start, start.Add(24*time.Hour), nil, &dayIndex)

		prefix := fmt.Sprintf("DailyForecasts.%d.", i)
		forecastBlock := func(metric string, block awBlock, sourceField string) {
			v, unit := block.reading()
			b.forecast(metric, v, unit, prefix+sourceField)
		}
		forecastBlock(metrics.TemperatureLow, entry.Temperature.Minimum, "Temperature.Minimum")
		forecastBlock(metrics.TemperatureHigh, entry.Temperature.Maximum, "Temperature.Maximum")
		b.forecast(metrics.PrecipProbability, entry.Day.PrecipProbability, "%", prefix+"Day.PrecipitationProbability")
		forecastBlock(metrics.PrecipAmount, entry.Day.TotalLiquid, "Day.TotalLiquid")
		forecastBlock(metrics.WindSpeed, entry.Day.Wind.Speed, "Day.Wind.Speed")
		b.forecast(metrics.WindDirection, entry.Day.Wind.Direction.Degrees, "deg", prefix+"Day.Wind.Direction.Degrees")
		forecastBlock(metrics.WindGust, entry.Day.WindGust.Speed, "Day.WindGust.Speed")
		b.forecast(metrics.CloudCover, entry.Day.CloudCover, "%", prefix+"Day.CloudCover")
		b.forecastText(metrics.ConditionText, entry.Day.IconPhrase, prefix+"Day.IconPhrase")
	}
	return b.finish()
}
