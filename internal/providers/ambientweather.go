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

const (
	ambientWeatherDefaultBaseURL = "https://api.ambientweather.net/v1"
	ambientWeatherAPIKeyEnv      = "WXBENCH_AMBIENT_WEATHER_API_KEY"
	ambientWeatherAppKeyEnv      = "WXBENCH_AMBIENT_WEATHER_APP_KEY"
)

// ambientWeatherClient fetches the caller's personal weather stations. The
// API reports observations only, in US customary units; there is no
// forecast product.
type ambientWeatherClient struct {
	cfg     config.ProvidersConfig
	loc     wx.Location
	baseURL string
	tr      *transport
}

func newAmbientWeatherClient(cfg config.ProvidersConfig, loc wx.Location, log *logger.Logger) *ambientWeatherClient {
	baseURL := cfg.AmbientWeatherBaseURL
	if baseURL == "" {
		baseURL = ambientWeatherDefaultBaseURL
	}
	return &ambientWeatherClient{
		cfg:     cfg,
		loc:     loc,
		baseURL: baseURL,
		tr:      newTransport(wx.ProviderAmbientWeather, cfg.RequestTimeoutSeconds, cfg.MaxRetries, log),
	}
}

func (c *ambientWeatherClient) Provider() wx.Provider { return wx.ProviderAmbientWeather }

func (c *ambientWeatherClient) Fetch(ctx context.Context, runAt time.Time) ([]wx.RawPayload, error) {
	apiKey := c.cfg.Key(ambientWeatherAPIKeyEnv)
	appKey := c.cfg.Key(ambientWeatherAppKeyEnv)
	if apiKey == "" || appKey == "" {
		return nil, &wx.AuthConfigError{Provider: wx.ProviderAmbientWeather,
			Detail: fmt.Sprintf("missing API credentials (%s, %s)", ambientWeatherAPIKeyEnv, ambientWeatherAppKeyEnv)}
	}

	url := fmt.Sprintf("%s/devices?applicationKey=%s&apiKey=%s", c.baseURL, appKey, apiKey)
	payload, err := c.tr.get(ctx, EndpointObservation, url, []string{"applicationKey", "apiKey"})
	if err != nil {
		return nil, err
	}
	payload.RunAt = runAt
	return []wx.RawPayload{payload}, nil
}

// Ambient Weather wire format: a device list, each with the most recent
// sensor readings under lastData. Readings are US customary: Fahrenheit,
// mph, inHg, inches.
type ambientDevice struct {
	MacAddress string `json:"macAddress"`
	Info       struct {
		Name   string        `json:"name"`
		Coords ambientCoords `json:"coords"`
	} `json:"info"`
	LastData *ambientLastData `json:"lastData"`
}

type ambientCoords struct {
	Coords struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"coords"`
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (c ambientCoords) latLon() (*float64, *float64) {
	if c.Coords.Lat != nil && c.Coords.Lon != nil {
		return c.Coords.Lat, c.Coords.Lon
	}
	return c.Lat, c.Lon
}

type ambientLastData struct {
	DateUTC      *int64   `json:"dateutc"`
	TempF        *float64 `json:"tempf"`
	FeelsLikeF   *float64 `json:"feelsLike"`
	DewPointF    *float64 `json:"dewPoint"`
	Humidity     *float64 `json:"humidity"`
	BaromRelInHg *float64 `json:"baromrelin"`
	BaromAbsInHg *float64 `json:"baromabsin"`
	WindSpeedMph *float64 `json:"windspeedmph"`
	WindGustMph  *float64 `json:"windgustmph"`
	WindDir      *float64 `json:"winddir"`
	HourlyRainIn *float64 `json:"hourlyrainin"`
	UV           *float64 `json:"uv"`
}

func normalizeAmbientWeather(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	if kind != wx.ProductObservation {
		return nil, nil
	}

	var devices []ambientDevice
	if err := json.Unmarshal(raw.Body, &devices); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}
	if len(devices) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: "no devices in payload"}
	}

	// Deterministic device selection: lexically smallest MAC address.
	sort.Slice(devices, func(i, j int) bool { return devices[i].MacAddress < devices[j].MacAddress })
	device := devices[0]
	if device.LastData == nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "lastData", Detail: "device payload missing lastData"}
	}
	data := device.LastData
	if data.DateUTC == nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "lastData.dateutc", Detail: "missing observation timestamp"}
	}
	observedAt := time.UnixMilli(*data.DateUTC).UTC()

	b := newBatch(raw, wx.ProductObservation, loc, align)
	station := device.Info.Name
	if station == "" {
		station = device.MacAddress
	}
	b.setStation(station)
	if lat, lon := device.Info.Coords.latLon(); lat != nil && lon != nil {
		b.setCoords(*lat, *lon)
	}

	b.observed(metrics.TemperatureAir, data.TempF, "F", observedAt, "lastData.tempf")
	b.observed(metrics.TemperatureApparent, data.FeelsLikeF, "F", observedAt, "lastData.feelsLike")
	b.observed(metrics.TemperatureDewpoint, data.DewPointF, "F", observedAt, "lastData.dewPoint")
	b.observed(metrics.HumidityRelative, data.Humidity, "%", observedAt, "lastData.humidity")
	pressure := data.BaromRelInHg
	pressureField := "lastData.baromrelin"
	if pressure == nil {
		pressure = data.BaromAbsInHg
		pressureField = "lastData.baromabsin"
	}
	b.observed(metrics.PressureSeaLevel, pressure, "inHg", observedAt, pressureField)
	b.observed(metrics.WindSpeed, data.WindSpeedMph, "mph", observedAt, "lastData.windspeedmph")
	b.observed(metrics.WindGust, data.WindGustMph, "mph", observedAt, "lastData.windgustmph")
	b.observed(metrics.WindDirection, data.WindDir, "deg", observedAt, "lastData.winddir")
	b.observed(metrics.PrecipAmount, data.HourlyRainIn, "in", observedAt, "lastData.hourlyrainin")
	b.observed(metrics.UVIndex, data.UV, metrics.UnitDimensionless, observedAt, "lastData.uv")
	return b.finish()
}
