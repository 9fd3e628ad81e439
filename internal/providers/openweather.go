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
	openWeatherDefaultBaseURL = "https://api.openweathermap.org"
	openWeatherKeyEnv         = "WXBENCH_OPENWEATHER_API_KEY"
)

// openWeatherClient fetches the current-conditions endpoint plus the One
// Call hourly and daily forecasts.
type openWeatherClient struct {
	cfg     config.ProvidersConfig
	loc     wx.Location
	baseURL string
	tr      *transport
}

func newOpenWeatherClient(cfg config.ProvidersConfig, loc wx.Location, log *logger.Logger) *openWeatherClient {
	baseURL := cfg.OpenWeatherBaseURL
	if baseURL == "" {
		baseURL = openWeatherDefaultBaseURL
	}
	return &openWeatherClient{
		cfg:     cfg,
		loc:     loc,
		baseURL: baseURL,
		tr:      newTransport(wx.ProviderOpenWeather, cfg.RequestTimeoutSeconds, cfg.MaxRetries, log),
	}
}

func (c *openWeatherClient) Provider() wx.Provider { return wx.ProviderOpenWeather }

func (c *openWeatherClient) Fetch(ctx context.Context, runAt time.Time) ([]wx.RawPayload, error) {
	apiKey := c.cfg.Key(openWeatherKeyEnv)
	if apiKey == "" {
		return nil, &wx.AuthConfigError{Provider: wx.ProviderOpenWeather,
			Detail: fmt.Sprintf("missing API key (%s)", openWeatherKeyEnv)}
	}

	requests := []struct {
		endpoint string
		url      string
	}{
		{EndpointObservation, fmt.Sprintf("%s/data/2.5/weather?lat=%f&lon=%f&appid=%s",
			c.baseURL, c.loc.Latitude, c.loc.Longitude, apiKey)},
		{EndpointForecastHourly, fmt.Sprintf("%s/data/3.0/onecall?lat=%f&lon=%f&exclude=current,minutely,daily,alerts&appid=%s",
			c.baseURL, c.loc.Latitude, c.loc.Longitude, apiKey)},
		{EndpointForecastDaily, fmt.Sprintf("%s/data/3.0/onecall?lat=%f&lon=%f&exclude=current,minutely,hourly,alerts&appid=%s",
			c.baseURL, c.loc.Latitude, c.loc.Longitude, apiKey)},
	}

	payloads := make([]wx.RawPayload, 0, len(requests))
	for _, r := range requests {
		payload, err := c.tr.get(ctx, r.endpoint, r.url, []string{"appid"})
		if err != nil {
			return payloads, err
		}
		payload.RunAt = runAt
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// OpenWeather wire formats. The current-conditions endpoint reports Kelvin
// temperatures, hPa pressure, m/s wind, and metres of visibility; One Call
// does the same except probability of precipitation, which is a 0..1
// fraction.
type owCurrentPayload struct {
	Coord *struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"coord"`
	Main struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Pressure  *float64 `json:"pressure"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
		Gust  *float64 `json:"gust"`
	} `json:"wind"`
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Rain struct {
		OneHour *float64 `json:"1h"`
	} `json:"rain"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Visibility *float64 `json:"visibility"`
	DT         *int64   `json:"dt"`
	Name       string   `json:"name"`
}

type owOneCallPayload struct {
	Lat    *float64         `json:"lat"`
	Lon    *float64         `json:"lon"`
	Hourly []owOneCallHour  `json:"hourly"`
	Daily  []owOneCallDaily `json:"daily"`
}

type owOneCallHour struct {
	DT         *int64   `json:"dt"`
	Temp       *float64 `json:"temp"`
	FeelsLike  *float64 `json:"feels_like"`
	DewPoint   *float64 `json:"dew_point"`
	Pressure   *float64 `json:"pressure"`
	Humidity   *float64 `json:"humidity"`
	UVI        *float64 `json:"uvi"`
	Clouds     *float64 `json:"clouds"`
	Visibility *float64 `json:"visibility"`
	WindSpeed  *float64 `json:"wind_speed"`
	WindDeg    *float64 `json:"wind_deg"`
	WindGust   *float64 `json:"wind_gust"`
	Pop        *float64 `json:"pop"`
	Rain       struct {
		OneHour *float64 `json:"1h"`
	} `json:"rain"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

type owOneCallDaily struct {
	DT   *int64 `json:"dt"`
	Temp struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
		Day *float64 `json:"day"`
	} `json:"temp"`
	Pressure  *float64 `json:"pressure"`
	Humidity  *float64 `json:"humidity"`
	DewPoint  *float64 `json:"dew_point"`
	WindSpeed *float64 `json:"wind_speed"`
	WindDeg   *float64 `json:"wind_deg"`
	WindGust  *float64 `json:"wind_gust"`
	Clouds    *float64 `json:"clouds"`
	Pop       *float64 `json:"pop"`
	Rain      *float64 `json:"rain"`
	UVI       *float64 `json:"uvi"`
	Weather   []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

func normalizeOpenWeather(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	switch kind {
	case wx.ProductObservation:
		return normalizeOpenWeatherObservation(raw, loc, align)
	case wx.ProductForecastHourly, wx.ProductForecastDaily:
		return normalizeOpenWeatherForecast(raw, kind, loc, align)
	}
	return nil, nil
}

func normalizeOpenWeatherObservation(raw *wx.RawPayload, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	var payload owCurrentPayload
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if payload.Coord == nil || payload.Coord.Lat == nil || payload.Coord.Lon == nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "coord", Detail: "missing coordinates"}
	}
	if payload.DT == nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "dt", Detail: "missing observation time"}
	}
	observedAt := epochSeconds(*payload.DT)

	b := newBatch(raw, wx.ProductObservation, loc, align)
	b.setCoords(*payload.Coord.Lat, *payload.Coord.Lon)
	b.setStation(payload.Name)
	b.observed(metrics.TemperatureAir, payload.Main.Temp, "K", observedAt, "main.temp")
	b.observed(metrics.TemperatureApparent, payload.Main.FeelsLike, "K", observedAt, "main.feels_like")
	b.observed(metrics.PressureSeaLevel, payload.Main.Pressure, "hPa", observedAt, "main.pressure")
	b.observed(metrics.HumidityRelative, payload.Main.Humidity, "%", observedAt, "main.humidity")
	b.observed(metrics.WindSpeed, payload.Wind.Speed, "m/s", observedAt, "wind.speed")
	b.observed(metrics.WindDirection, payload.Wind.Deg, "deg", observedAt, "wind.deg")
	b.observed(metrics.WindGust, payload.Wind.Gust, "m/s", observedAt, "wind.gust")
	b.observed(metrics.CloudCover, payload.Clouds.All, "%", observedAt, "clouds.all")
	b.observed(metrics.Visibility, payload.Visibility, "m", observedAt, "visibility")
	b.observed(metrics.PrecipAmount, payload.Rain.OneHour, "mm", observedAt, "rain.1h")
	if len(payload.Weather) > 0 {
		b.observedText(metrics.ConditionText, payload.Weather[0].Description, observedAt, "weather.0.description")
	}
	return b.finish()
}

func normalizeOpenWeatherForecast(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	var payload owOneCallPayload
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if payload.Lat == nil || payload.Lon == nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "lat", Detail: "missing coordinates"}
	}

	b := newBatch(raw, kind, loc, align)
	b.setCoords(*payload.Lat, *payload.Lon)

	if kind == wx.ProductForecastHourly {
		if len(payload.Hourly) == 0 {
			return nil, &wx.MappingError{Provider: raw.Provider, Field: "hourly", Detail: "missing hourly forecast entries"}
		}
		for i, hour := range payload.Hourly {
			if hour.DT == nil {
				return nil, &wx.MappingError{Provider: raw.Provider,
					Field: fmt.Sprintf("hourly.%d.dt", i), Detail: "missing forecast start time"}
			}
			start := epochSeconds(*hour.DT)
			b.setWindow(start, start.Add(time.Hour), nil, nil)
			prefix := fmt.Sprintf("hourly.%d.", i)
			b.forecast(metrics.TemperatureAir, hour.Temp, "K", prefix+"temp")
			b.forecast(metrics.TemperatureApparent, hour.FeelsLike, "K", prefix+"feels_like")
			b.forecast(metrics.TemperatureDewpoint, hour.DewPoint, "K", prefix+"dew_point")
			b.forecast(metrics.PressureSeaLevel, hour.Pressure, "hPa", prefix+"pressure")
			b.forecast(metrics.HumidityRelative, hour.Humidity, "%", prefix+"humidity")
			b.forecast(metrics.UVIndex, hour.UVI, metrics.UnitDimensionless, prefix+"uvi")
			b.forecast(metrics.CloudCover, hour.Clouds, "%", prefix+"clouds")
			b.forecast(metrics.Visibility, hour.Visibility, "m", prefix+"visibility")
			b.forecast(metrics.WindSpeed, hour.WindSpeed, "m/s", prefix+"wind_speed")
			b.forecast(metrics.WindDirection, hour.WindDeg, "deg", prefix+"wind_deg")
			b.forecast(metrics.WindGust, hour.WindGust, "m/s", prefix+"wind_gust")
			b.forecast(metrics.PrecipProbability, hour.Pop, "fraction", prefix+"pop")
			b.forecast(metrics.PrecipAmount, hour.Rain.OneHour, "mm", prefix+"rain.1h")
			if len(hour.Weather) > 0 {
				b.forecastText(metrics.ConditionText, hour.Weather[0].Description, prefix+"weather.0.description")
			}
		}
		return b.finish()
	}

	if len(payload.Daily) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "daily", Detail: "missing daily forecast entries"}
	}
	for i, day := range payload.Daily {
		if day.DT == nil {
			return nil, &wx.MappingError{Provider: raw.Provider,
				Field: fmt.Sprintf("daily.%d.dt", i), Detail: "missing forecast start time"}
		}
		start := epochSeconds(*day.DT)
		dayIndex := i
		b.setWindow(start, start.Add(24*time.Hour), nil, &dayIndex)
		prefix := fmt.Sprintf("daily.%d.", i)
		b.forecast(metrics.TemperatureLow, day.Temp.Min, "K", prefix+"temp.min")
		b.forecast(metrics.TemperatureHigh, day.Temp.Max, "K", prefix+"temp.max")
		b.forecast(metrics.TemperatureAir, day.Temp.Day, "K", prefix+"temp.day")
		b.forecast(metrics.PressureSeaLevel, day.Pressure, "hPa", prefix+"pressure")
		b.forecast(metrics.HumidityRelative, day.Humidity, "%", prefix+"humidity")
		b.forecast(metrics.TemperatureDewpoint, day.DewPoint, "K", prefix+"dew_point")
		b.forecast(metrics.WindSpeed, day.WindSpeed, "m/s", prefix+"wind_speed")
		b.forecast(metrics.WindDirection, day.WindDeg, "deg", prefix+"wind_deg")
		b.forecast(metrics.WindGust, day.WindGust, "m/s", prefix+"wind_gust")
		b.forecast(metrics.CloudCover, day.Clouds, "%", prefix+"clouds")
		b.forecast(metrics.PrecipProbability, day.Pop, "fraction", prefix+"pop")
		b.forecast(metrics.PrecipAmount, day.Rain, "mm", prefix+"rain")
		b.forecast(metrics.UVIndex, day.UVI, metrics.UnitDimensionless, prefix+"uvi")
		if len(day.Weather) > 0 {
			b.forecastText(metrics.ConditionText, day.Weather[0].Description, prefix+"weather.0.description")
		}
	}
	return b.finish()
}
